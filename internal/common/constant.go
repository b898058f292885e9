package common

// AuthorizationHeaderName carries the bearer access token on HTTP requests.
const AuthorizationHeaderName = "Authorization"

// Vault upload headers understood by the upload target.
const (
	UploadTokenHeaderName = "X-Upload-Token"
	ChecksumHeaderName    = "X-Content-Checksum"
)
