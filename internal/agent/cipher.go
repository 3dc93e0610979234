package agent

// Cipher is an opaque payload-protection capability supplied by the
// embedding application. When one is configured, event payload bytes are
// passed through Encrypt before they go on the wire; the controller
// stores them as-is and decryption happens wherever the operator consumes
// them. A nil Cipher leaves payloads untouched.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}
