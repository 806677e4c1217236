package httpclient

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/url"
	"strings"

	"github.com/unkn0wn-root/restrun/internal/errdef"
	"github.com/unkn0wn-root/restrun/internal/restfile"
)

// encodeBody returns the wire body and the content type implied by its kind.
func encodeBody(b *restfile.Body) (io.Reader, string, error) {
	if b.Empty() {
		return nil, "", nil
	}
	switch b.Kind {
	case restfile.BodyJSON:
		return strings.NewReader(b.Content), "application/json", nil
	case restfile.BodyXML:
		return strings.NewReader(b.Content), "application/xml", nil
	case restfile.BodyRaw:
		return strings.NewReader(b.Content), "text/plain", nil
	case restfile.BodyURLEncoded:
		form := url.Values{}
		for _, f := range restfile.EnabledValues(b.Fields) {
			form.Add(f.Key, f.Value)
		}
		return strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", nil
	case restfile.BodyFormData:
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for _, f := range restfile.EnabledValues(b.Fields) {
			if err := w.WriteField(f.Key, f.Value); err != nil {
				return nil, "", errdef.Wrap(errdef.CodeHTTP, err, "write form field %s", f.Key)
			}
		}
		if err := w.Close(); err != nil {
			return nil, "", errdef.Wrap(errdef.CodeHTTP, err, "close multipart body")
		}
		return &buf, w.FormDataContentType(), nil
	default:
		return nil, "", errdef.New(errdef.CodeHTTP, "unsupported body kind %q", b.Kind)
	}
}
