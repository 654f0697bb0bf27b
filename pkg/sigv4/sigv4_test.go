package sigv4

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signRequest produces a header-auth Authorization value the way an AWS SDK
// client would, so the verifier can be exercised end to end.
func signRequest(r *http.Request, accessKey, secret, bodyHash string) {
	const (
		date   = "20240301"
		region = "us-east-1"
	)
	amzDate := date + "T102030Z"
	r.Header.Set("x-amz-date", amzDate)
	r.Header.Set("x-amz-content-sha256", bodyHash)

	signedHeaders := "host;x-amz-content-sha256;x-amz-date"
	canonicalRequest := buildCanonicalRequest(r, signedHeaders, bodyHash)
	stringToSign := buildStringToSign(amzDate, date, region, "s3", canonicalRequest)

	v := NewVerifier(accessKey, secret)
	signature := v.signature(date, region, "s3", stringToSign)

	r.Header.Set("Authorization", fmt.Sprintf(
		"%s Credential=%s/%s/%s/s3/aws4_request, SignedHeaders=%s, Signature=%s",
		authPrefix, accessKey, date, region, signedHeaders, signature))
}

func TestVerifySignedRequest(t *testing.T) {
	a := assert.New(t)
	v := NewVerifier("AKIDEXAMPLE", "wJalrXUtnFEMI")

	bodyHash := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	req := httptest.NewRequest("PUT", "http://localhost:9000/zone/hello.txt", strings.NewReader("hello"))
	signRequest(req, "AKIDEXAMPLE", "wJalrXUtnFEMI", bodyHash)

	a.NoError(v.VerifyRequest(req, bodyHash))

	// Same request and secret derive the same signature.
	auth := req.Header.Get("Authorization")
	req2 := httptest.NewRequest("PUT", "http://localhost:9000/zone/hello.txt", strings.NewReader("hello"))
	signRequest(req2, "AKIDEXAMPLE", "wJalrXUtnFEMI", bodyHash)
	a.Equal(auth, req2.Header.Get("Authorization"))

	// Flipping a byte of the payload hash must break verification.
	flipped := "3" + bodyHash[1:]
	a.ErrorIs(v.VerifyRequest(req, flipped), ErrInvalidSignature)
}

func TestVerifyRejectsForeignAccessKey(t *testing.T) {
	v := NewVerifier("AKIDEXAMPLE", "secret")

	req := httptest.NewRequest("GET", "http://localhost:9000/zone", nil)
	signRequest(req, "SOMEBODYELSE", "secret", EmptyPayloadHash)

	assert.ErrorIs(t, v.VerifyRequest(req, EmptyPayloadHash), ErrInvalidSignature)
}

func TestVerifyRejectsMalformedHeader(t *testing.T) {
	a := assert.New(t)
	v := NewVerifier("AKIDEXAMPLE", "secret")

	for _, auth := range []string{
		"Basic dXNlcjpwYXNz",
		"AWS4-HMAC-SHA256 Credential=only",
		"AWS4-HMAC-SHA256 Credential=a/b, SignedHeaders=host, Signature=sig",
	} {
		req := httptest.NewRequest("GET", "http://localhost:9000/zone", nil)
		req.Header.Set("Authorization", auth)
		a.ErrorIs(v.VerifyRequest(req, EmptyPayloadHash), ErrInvalidSignature)
	}
}

func TestMissingAuth(t *testing.T) {
	v := NewVerifier("AKIDEXAMPLE", "secret")
	req := httptest.NewRequest("GET", "http://localhost:9000/zone", nil)
	assert.ErrorIs(t, v.VerifyRequest(req, EmptyPayloadHash), ErrMissingAuth)
}

func TestPresignedURL(t *testing.T) {
	a := assert.New(t)
	v := NewVerifier("AKIDEXAMPLE", "secret")
	v.now = func() time.Time {
		return time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	}

	base := "http://localhost:9000/zone/key?X-Amz-Credential=AKIDEXAMPLE%2F20240301%2Fus-east-1%2Fs3%2Faws4_request&X-Amz-Signature=abc123"

	req := httptest.NewRequest("GET", base, nil)
	a.NoError(v.VerifyRequest(req, EmptyPayloadHash))

	// Still within date+expires.
	req = httptest.NewRequest("GET", base+"&X-Amz-Date=20240301T102000Z&X-Amz-Expires=3600", nil)
	a.NoError(v.VerifyRequest(req, EmptyPayloadHash))

	// Expired.
	req = httptest.NewRequest("GET", base+"&X-Amz-Date=20240301T090000Z&X-Amz-Expires=60", nil)
	a.ErrorIs(v.VerifyRequest(req, EmptyPayloadHash), ErrInvalidSignature)

	// Wrong access key.
	req = httptest.NewRequest("GET", "http://localhost:9000/zone/key?X-Amz-Credential=OTHER%2F20240301%2Fus-east-1%2Fs3%2Faws4_request&X-Amz-Signature=abc123", nil)
	a.ErrorIs(v.VerifyRequest(req, EmptyPayloadHash), ErrInvalidSignature)
}

func TestURIEncode(t *testing.T) {
	a := assert.New(t)

	unreserved := "ABCXYZabcxyz0189_-~."
	a.Equal(unreserved, uriEncode(unreserved))

	a.Equal("%2F", uriEncode("/"))
	a.Equal("%20", uriEncode(" "))
	a.Equal("a%26b%3Dc", uriEncode("a&b=c"))
	a.Equal("%E2%82%AC", uriEncode("€"))
}

func TestCanonicalQueryString(t *testing.T) {
	a := assert.New(t)

	a.Equal("", canonicalQueryString(""))
	a.Equal("delimiter=%2F&list-type=2&prefix=a%2Fb",
		canonicalQueryString("prefix=a%2Fb&delimiter=/&list-type=2"))
	a.Equal("uploads=", canonicalQueryString("uploads"))
}

func TestConstantTimeEqual(t *testing.T) {
	a := assert.New(t)
	a.True(constantTimeEqual("deadbeef", "deadbeef"))
	a.False(constantTimeEqual("deadbeef", "deadbeee"))
	a.False(constantTimeEqual("dead", "deadbeef"))
}

func TestPayloadHash(t *testing.T) {
	require.Equal(t, EmptyPayloadHash, PayloadHash(nil))
	require.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		PayloadHash([]byte("hello")))
}
