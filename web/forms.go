package web

// Form decoding via gorilla/schema. The decoder is shared: it caches struct
// metadata internally and is safe for concurrent use.

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/schema"
)

var formDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

// OnCallForm carries the on-call rota replacement: the companies to mark and
// the owner responsible for them.
type OnCallForm struct {
	CompanyIDs []int64 `schema:"company_id"`
	AssignedBy int64   `schema:"assigned_by"`
}

// decodeOnCallForm parses and validates the on-call POST form.
func decodeOnCallForm(r *http.Request) (*OnCallForm, error) {

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("invalid POST request: %w", err)
	}

	form := &OnCallForm{}
	if err := formDecoder.Decode(form, r.PostForm); err != nil {
		return nil, fmt.Errorf("on-call form error: %w", err)
	}

	if len(form.CompanyIDs) == 0 {
		return nil, errors.New("at least one company_id is required")
	}
	if form.AssignedBy == 0 {
		return nil, errors.New("assigned_by is required")
	}
	return form, nil
}
