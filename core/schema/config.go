package schema

// UpdateRef identifies the target of an independent field update so an
// update hook can look up sibling or referenced state before accepting
// the candidate value.
type UpdateRef struct {
	// DocumentID is the target document's identity.
	DocumentID string

	// Path is the full field path string, root identity included.
	Path string
}

// SchemaConfig governs how a field behaves at construction time.
type SchemaConfig struct {
	// Default is the declared default value. Meaningful only when
	// HasDefault is set, so an explicit nil default stays expressible.
	Default    any
	HasDefault bool

	// DefaultFactory produces a fresh default per construction. Mutually
	// exclusive with Default.
	DefaultFactory func() any

	// KeywordOnly forbids supplying the field positionally.
	KeywordOnly bool

	// Validate runs after the type expectation has accepted a value.
	Validate func(v any) error
}

// Defaulted reports whether the field can fall back to a default.
func (c *SchemaConfig) Defaulted() bool {
	return c.HasDefault || c.DefaultFactory != nil
}

// DefaultValue produces the default, invoking the factory when declared.
func (c *SchemaConfig) DefaultValue() any {
	if c.DefaultFactory != nil {
		return c.DefaultFactory()
	}
	return c.Default
}

// DocumentFieldConfig carries the independent-update contract of a
// persisted field. A field without one can never be updated on its own.
type DocumentFieldConfig struct {
	// AllowIndependentUpdate permits single-field updates through paths
	// and pointers.
	AllowIndependentUpdate bool

	// UpdateValidate runs before an independent update is written.
	UpdateValidate func(ref UpdateRef, v any) error

	// InsertValidate runs when the owning document is first inserted.
	InsertValidate func(v any) error
}

// recordOptions collects the per-type settings that cannot be expressed
// in struct tags.
type recordOptions struct {
	frozen bool
	fields map[string]*fieldOptions
}

type fieldOptions struct {
	def            any
	hasDefault     bool
	factory        func() any
	validate       func(any) error
	updatable      bool
	hasUpdatable   bool
	updateValidate func(UpdateRef, any) error
	insertValidate func(any) error
}

func (o *recordOptions) field(name string) *fieldOptions {
	if o.fields == nil {
		o.fields = map[string]*fieldOptions{}
	}
	fo, ok := o.fields[name]
	if !ok {
		fo = &fieldOptions{}
		o.fields[name] = fo
	}
	return fo
}

// RecordOption configures a record type at registration.
type RecordOption func(*recordOptions)

// Frozen forbids in-place mutation through the engine's write paths:
// field-path apply and independent field updates are rejected, replacement
// values are constructed fresh.
func Frozen() RecordOption {
	return func(o *recordOptions) { o.frozen = true }
}

// WithFieldDefault declares a default value for the named field. The
// default is validated against the field's expectation at registration.
func WithFieldDefault(field string, v any) RecordOption {
	return func(o *recordOptions) {
		fo := o.field(field)
		fo.def = v
		fo.hasDefault = true
	}
}

// WithFieldFactory declares a per-construction default factory for the
// named field.
func WithFieldFactory(field string, f func() any) RecordOption {
	return func(o *recordOptions) { o.field(field).factory = f }
}

// WithFieldValidate attaches a validation hook to the named field.
func WithFieldValidate(field string, f func(v any) error) RecordOption {
	return func(o *recordOptions) { o.field(field).validate = f }
}

// WithUpdatable marks the named field independently updatable, equivalent
// to the "update" tag flag.
func WithUpdatable(field string) RecordOption {
	return func(o *recordOptions) {
		fo := o.field(field)
		fo.updatable = true
		fo.hasUpdatable = true
	}
}

// WithUpdateValidate attaches an independent-update hook to the named
// field and marks it updatable.
func WithUpdateValidate(field string, f func(ref UpdateRef, v any) error) RecordOption {
	return func(o *recordOptions) {
		fo := o.field(field)
		fo.updateValidate = f
		if !fo.hasUpdatable {
			fo.updatable = true
		}
	}
}

// WithInsertValidate attaches an insert-time hook to the named field.
func WithInsertValidate(field string, f func(v any) error) RecordOption {
	return func(o *recordOptions) { o.field(field).insertValidate = f }
}

// pseudoOptions collects pseudo-primitive settings.
type pseudoOptions struct {
	validate func(any) error
	values   []any
}

// PseudoOption configures a pseudo-primitive at registration.
type PseudoOption func(*pseudoOptions)

// WithPseudoValidate attaches a validation hook run on every value of the
// pseudo-primitive, both on construction and on decode.
func WithPseudoValidate(f func(v any) error) PseudoOption {
	return func(o *pseudoOptions) { o.validate = f }
}

// WithValues closes the pseudo-primitive over an enumerated value set.
func WithValues(values ...any) PseudoOption {
	return func(o *pseudoOptions) { o.values = values }
}

// dictOptions collects dict-container settings.
type dictOptions struct {
	limitKeys []any
}

// DictOption configures a dict-container type at registration.
type DictOption func(*dictOptions)

// WithLimitKeys closes the dict over a permitted key set.
func WithLimitKeys(keys ...any) DictOption {
	return func(o *dictOptions) { o.limitKeys = keys }
}
