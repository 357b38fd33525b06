// Package visibility defines the inputs used to decide whether a form field
// is shown for the current answers. Rules are plain strings stored next to the
// field in schema documents (the `visibleWhen` key) so schemas stay data.
package visibility

// Context provides inputs to a rule. Values holds the current form answers
// keyed by field key while Extras carries caller supplied context reachable
// via `extras.`; the dashboard and the wizard fill it with the customer's
// purchased products and role.
type Context struct {
	Values map[string]any
	Extras map[string]any
}
