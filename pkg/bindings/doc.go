// Package bindings converts between the wire's TypedValue union and the
// language-native values handlers work with. Conversion is pure: encoding a
// well-formed domain value never fails, and decoding fails with a classified
// error (type mismatch or malformed payload) without side effects.
//
// The package also owns the table of binding kinds this worker supports.
// Concrete binding semantics beyond the wire shape (queue visibility, blob
// leases, HTTP content negotiation) belong to the binding type library, not
// here.
package bindings
