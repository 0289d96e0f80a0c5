// Package schema provides optional type declarations for state fields.
//
// A graph may declare the expected type of some or all of its state fields.
// The engine validates the initial state of a run and every caller-issued
// patch against the schema, so a typo in a review edit ("ture" instead of
// true) is rejected before it is checkpointed.
//
//	s := schema.Schema{
//	    "door_open":   schema.Bool(),
//	    "item_inside": schema.Bool(),
//	    "messages":    schema.Slice(schema.Any()),
//	}
//
//	if err := schema.ValidatePresent(s, patch); err != nil {
//	    // reject the patch
//	}
//
// Schemas can also be parsed from type strings, which is how YAML graph
// definitions declare them:
//
//	s, err := schema.ParseTypeMap(map[string]string{
//	    "door_open": "bool",
//	    "tags":      "[string]",
//	})
//
// Custom validators cover domain-specific checks:
//
//	decision := schema.Custom("decision", func(v any) error {
//	    if v != "yes" && v != "no" {
//	        return fmt.Errorf("must be yes or no")
//	    }
//	    return nil
//	})
package schema
