package maxdata

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Product is one catalog item as the remote ERP reports it. Field names
// follow the upstream API (Brazilian Portuguese). The id is unique per
// tenant only, not globally.
type Product struct {
	ID               int              `json:"id"`
	Descricao        string           `json:"descricao"`
	Ean              string           `json:"ean,omitempty"`
	Preco            *decimal.Decimal `json:"preco,omitempty"`
	PrecoPromocional *decimal.Decimal `json:"precoPromocional,omitempty"`
	SaldoEstoque     int              `json:"saldoEstoque"`
	IdGrupo          *int             `json:"idGrupo,omitempty"`
	IdSubGrupo       *int             `json:"idSubGrupo,omitempty"`
	EmpId            int              `json:"empId"`
	Ativo            bool             `json:"ativo"`
	Ecommerce        *bool            `json:"ecommerce,omitempty"`
	Observacao       string           `json:"observacao,omitempty"`
	Unidade          string           `json:"unidade,omitempty"`
	Marca            string           `json:"marca,omitempty"`
	Modelo           string           `json:"modelo,omitempty"`
	Foto             string           `json:"foto,omitempty"`
	CreatedAt        string           `json:"created_at,omitempty"`
	UpdatedAt        string           `json:"updated_at,omitempty"`
}

// Group is a product category as the ERP reports it.
type Group struct {
	ID        int    `json:"id"`
	Nome      string `json:"nome"`
	EmpId     int    `json:"empId"`
	Ecommerce *bool  `json:"ecommerce,omitempty"`
}

// SubGroup is a product subcategory.
type SubGroup struct {
	ID        int    `json:"id"`
	Nome      string `json:"nome"`
	GrupoId   int    `json:"grupoId"`
	EmpId     int    `json:"empId"`
	Ecommerce *bool  `json:"ecommerce,omitempty"`
}

// ProductPage is one decoded page of the paginated listing endpoint.
// Pages/Page are what the remote side reports; callers drive pagination
// off these, never off local page counting, because the server may clamp
// the requested page size.
type ProductPage struct {
	Items []Product `json:"docs"`
	Total int64     `json:"total"`
	Limit int       `json:"limit"`
	Page  int       `json:"page"`
	Pages int       `json:"pages"`
}

// CatalogStats is a cheap first-page probe of a tenant's catalog.
type CatalogStats struct {
	TotalProducts int64 `json:"totalProducts"`
	TotalPages    int   `json:"totalPages"`
	HasConnection bool  `json:"hasConnection"`
}

type listShape int

const (
	shapePaginated listShape = iota
	shapePlainArray
	shapeMalformed
)

// rawEnvelope mirrors the wire envelope before item decoding. Docs stays
// raw so null entries can be dropped and per-item decode failures can be
// reported with context.
type rawEnvelope struct {
	Docs  []json.RawMessage `json:"docs"`
	Total *int64            `json:"total"`
	Limit *int              `json:"limit"`
	Page  *int              `json:"page"`
	Pages *int              `json:"pages"`
}

// decodedList is the tagged decode of a listing response: either the
// paginated envelope, a bare JSON array, or malformed. All downstream
// code works off this; nothing re-inspects the raw body.
type decodedList struct {
	shape     listShape
	envelope  rawEnvelope
	plainDocs []json.RawMessage
	reason    string
}

func decodeList(body []byte) decodedList {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return decodedList{shape: shapeMalformed, reason: "empty response body"}
	}

	if trimmed[0] == '[' {
		var docs []json.RawMessage
		if err := json.Unmarshal(trimmed, &docs); err != nil {
			return decodedList{shape: shapeMalformed, reason: "invalid JSON array: " + err.Error()}
		}
		return decodedList{shape: shapePlainArray, plainDocs: docs}
	}

	var env rawEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return decodedList{shape: shapeMalformed, reason: "invalid JSON object: " + err.Error()}
	}
	if env.Docs == nil {
		return decodedList{shape: shapeMalformed, reason: `response has no "docs" array`}
	}
	return decodedList{shape: shapePaginated, envelope: env}
}

// decodeDocs unmarshals raw docs entries into T, dropping JSON nulls.
func decodeDocs[T any](docs []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, raw := range docs {
		if isJSONNull(raw) {
			continue
		}
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func unmarshalObject(body []byte, dest any) error {
	if err := json.Unmarshal(bytes.TrimSpace(body), dest); err != nil {
		return &MalformedResponseError{Reason: err.Error()}
	}
	return nil
}

func isJSONNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
