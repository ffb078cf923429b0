package provider

import "github.com/tidwall/sjson"

// setJSONField sets path to a scalar or map value in body, leaving every
// other field untouched ("Adapters ... never drop fields they
// do not understand").
func setJSONField(body []byte, path string, value any) ([]byte, error) {
	return sjson.SetBytes(body, path, value)
}

// setRawJSONField sets path to the raw JSON document raw (used for
// embedding an already-encoded JSON schema object), rather than treating
// raw as a string literal.
func setRawJSONField(body []byte, path string, raw []byte) ([]byte, error) {
	return sjson.SetRawBytes(body, path, raw)
}
