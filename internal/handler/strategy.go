package handler

// UnknownIdentityFunc decides what happens when a login is requested
// for an address with no matching user. The returned message is shown
// as a form error; returning an empty message makes the flow pretend
// the email was sent, for deployments that prefer not to confirm
// which addresses have accounts.
type UnknownIdentityFunc func(email string) string

// DefaultUnknownIdentity reports a visible form error.
func DefaultUnknownIdentity(string) string {
	return "No user found with this email address."
}

// SilentUnknownIdentity pretends success without creating a token or
// sending anything.
func SilentUnknownIdentity(string) string {
	return ""
}
