/*
Package schema defines the descriptor types for registered record types:
per-field schemas, type expectations, and the configuration governing
defaults, validation hooks and independent updates.

A record type is a plain Go struct whose fields are gathered by reflection
when the type is registered:

	type User struct {
	    document.Meta
	    document.OwnedBy

	    Name  safetext.String `docmap:"name,update"`
	    Age   int64           `docmap:"age,default 21"`
	    Note  *string         `docmap:"note"`
	    Order docid.ID        `docmap:"order_id,ref order"`
	    Extra map[string]any  `docmap:",extra"`
	}

Tag grammar: the first element is the wire name (empty keeps the Go field
name), followed by comma-separated flags:

  - default <literal>: declared default, validated at registration
  - update:            the field may be updated independently
  - kwonly:            the field cannot be supplied positionally
  - nullable:          permits null for interface-typed fields
  - ref <identity>:    typed reference to a record registered under identity
  - extra:             map[string]any catch-all for undeclared document keys
  - "-":               the field is invisible to the engine

Nullability is otherwise declared with pointer types: *T means "T or null".
Wider unions are rejected at registration.

Hooks and factory defaults cannot be expressed in tags; they are attached
with the option functions (WithFieldValidate, WithFieldFactory,
WithUpdateValidate, ...) at registration time.
*/
package schema
