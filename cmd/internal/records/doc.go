// Package records validates the untyped record payloads carried by event-stream commits.
//
// Each collection under the app.protoimsg.chat namespace has a typed shape. Validation
// enforces identifier, URI and timestamp formats plus length bounds, while ignoring
// unknown fields and tolerating unknown enum values so newer clients do not break
// older servers. Validate never panics; malformed input yields a *ValidationError.
package records
