package cryptox

// DecryptStatus tags the outcome of a transport decryption. The zero value
// is Undecryptable.
type DecryptStatus int

const (
	Undecryptable DecryptStatus = iota
	Decrypted
)

// UndecryptableMarker is what Display returns for a failed decryption.
const UndecryptableMarker = "[unable to decrypt]"

// TransportResult is the tagged outcome of Codec.DecryptFromTransport.
type TransportResult struct {
	Status DecryptStatus
	Text   string
	Err    error
}

// OK reports whether the payload decrypted and authenticated.
func (r TransportResult) OK() bool {
	return r.Status == Decrypted
}

// Display returns the plaintext, or UndecryptableMarker on failure.
func (r TransportResult) Display() string {
	if r.OK() {
		return r.Text
	}
	return UndecryptableMarker
}
