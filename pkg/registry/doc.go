// Package registry resolves the handler and router names used by declarative
// graph definitions. Default() ships built-ins that cover simple workflows
// without Go code: "step", "assign", "require", "append" and "noop" handlers,
// and "field" and "truthy" routers.
package registry
