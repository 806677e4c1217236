package report

import (
	"encoding/json"
	"io"

	"github.com/unkn0wn-root/restrun/internal/runner"
)

func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func CollectionJSON(w io.Writer, result *runner.CollectionRunResult) error {
	return WriteJSON(w, result)
}

func RequestJSON(w io.Writer, res runner.RequestRunResult) error {
	return WriteJSON(w, res)
}
