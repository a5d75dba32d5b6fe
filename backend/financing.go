package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"financing-wizard/domain"
)

const (
	configPath    = "/api/financing/calculator/config/"
	calculatePath = "/api/financing/calculator/calculate/"
	requestsPath  = "/api/financing/requests/"
)

func requestPath(id int, action string) string {
	if action == "" {
		return fmt.Sprintf("%s%d/", requestsPath, id)
	}
	return fmt.Sprintf("%s%d/%s/", requestsPath, id, action)
}

// FetchConfig loads the calculator configuration. No credentials needed.
func (c *Client) FetchConfig(ctx context.Context) (domain.CalculatorConfig, error) {
	body, err := c.do(ctx, request{op: "config", method: http.MethodGet, path: configPath})
	if err != nil {
		return domain.CalculatorConfig{}, err
	}

	// algunas versiones envuelven la respuesta en {"success": true, "data": {...}}
	var envelope struct {
		Data *domain.CalculatorConfig `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Data != nil {
		return *envelope.Data, nil
	}
	var cfg domain.CalculatorConfig
	if err := decodeJSON(body, &cfg); err != nil {
		return domain.CalculatorConfig{}, err
	}
	return cfg, nil
}

// Calculate posts a calculation and returns the raw body; the calculation
// service normalizes its loosely named fields.
func (c *Client) Calculate(ctx context.Context, input domain.CalculationInput) ([]byte, error) {
	r, err := c.jsonRequest("calculate", http.MethodPost, calculatePath, input, false)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, r)
}

func (c *Client) Get(ctx context.Context, id int) (domain.RemoteApplication, error) {
	body, err := c.do(ctx, request{op: "get_request", method: http.MethodGet, path: requestPath(id, ""), auth: true})
	if err != nil {
		return domain.RemoteApplication{}, err
	}
	var app domain.RemoteApplication
	if err := decodeJSON(body, &app); err != nil {
		return domain.RemoteApplication{}, err
	}
	return app, nil
}

func (c *Client) Create(ctx context.Context, payload domain.WirePayload) (int, error) {
	r, err := c.jsonRequest("create_request", http.MethodPost, requestsPath, payload, true)
	if err != nil {
		return 0, err
	}
	body, err := c.do(ctx, r)
	if err != nil {
		return 0, err
	}
	var created struct {
		ID int `json:"id"`
	}
	if err := decodeJSON(body, &created); err != nil {
		return 0, err
	}
	if created.ID == 0 {
		return 0, fmt.Errorf("create_request: el backend no devolvió el id de la solicitud")
	}
	return created.ID, nil
}

func (c *Client) Update(ctx context.Context, id int, payload domain.WirePayload) error {
	r, err := c.jsonRequest("update_request", http.MethodPut, requestPath(id, ""), payload, true)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, r)
	return err
}

// UploadDocuments sends every file under the repeated "documents" field.
func (c *Client) UploadDocuments(ctx context.Context, id int, files []domain.StagedFile) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="documents"; filename=%q`, f.Name))
		h.Set("Content-Type", f.MimeType)
		part, err := w.CreatePart(h)
		if err != nil {
			return fmt.Errorf("upload_documents: %w", err)
		}
		if _, err := part.Write(f.Content); err != nil {
			return fmt.Errorf("upload_documents: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("upload_documents: %w", err)
	}

	_, err := c.do(ctx, request{
		op:          "upload_documents",
		method:      http.MethodPost,
		path:        requestPath(id, "upload_documents"),
		body:        buf.Bytes(),
		contentType: w.FormDataContentType(),
		auth:        true,
	})
	return err
}

func (c *Client) Submit(ctx context.Context, id int) error {
	_, err := c.do(ctx, request{op: "submit_request", method: http.MethodPost, path: requestPath(id, "submit"), auth: true})
	return err
}
