package schema

import "sort"

// Schema is a map of state field names to their expected types.
// Example: {"door_open": Bool(), "item_inside": Bool(), "messages": Slice(Any())}
type Schema map[string]Type

// Validate checks that every field declared by the schema is present in data
// and holds a value of the declared type.
func Validate(schema Schema, data map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	return ValidateFields(schema, data, sortedKeys(schema)...)
}

// ValidateFields validates only specific fields from data against the schema.
// Missing fields and fields unknown to the schema are errors.
func ValidateFields(schema Schema, data map[string]any, fields ...string) error {
	var errs []error
	for _, fieldName := range fields {
		fieldType, exists := schema[fieldName]
		if !exists {
			errs = append(errs, &ValidationError{Key: fieldName, Reason: "not defined in schema"})
			continue
		}
		value, present := data[fieldName]
		if !present {
			errs = append(errs, &ValidationError{Key: fieldName, Reason: "required"})
			continue
		}
		if err := fieldType.Validate(value); err != nil {
			errs = append(errs, &ValidationError{Key: fieldName, Reason: err.Error(), Value: value})
		}
	}
	return aggregate(errs)
}

// ValidatePresent checks the declared fields that data actually carries.
// Absent fields and fields the schema does not declare are ignored, which
// makes it suitable for initial states and partial patches.
// A nil value is accepted for any declared field.
func ValidatePresent(schema Schema, data map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	var errs []error
	for _, fieldName := range sortedKeys(schema) {
		value, present := data[fieldName]
		if !present || value == nil {
			continue
		}
		if err := schema[fieldName].Validate(value); err != nil {
			errs = append(errs, &ValidationError{Key: fieldName, Reason: err.Error(), Value: value})
		}
	}
	return aggregate(errs)
}

func aggregate(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &AggregateError{Errors: errs}
}

func sortedKeys(s Schema) []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
