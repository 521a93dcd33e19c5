package fundx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/alanyoungcy/fundxeval/internal/domain"
)

// ExamTypes fetches every configured exam tier.
func (c *Client) ExamTypes(ctx context.Context) ([]domain.ExamType, error) {
	body, err := c.do(ctx, http.MethodGet, c.configURL, "/api/config/exam-types", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fundx/config: exam types: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("fundx/config: decode exam types: %w", err)
	}
	if !env.Success {
		return nil, fmt.Errorf("fundx/config: exam types: %s", env.errText())
	}

	var apiTypes []APIExamType
	if err := json.Unmarshal(env.Data, &apiTypes); err != nil {
		return nil, fmt.Errorf("fundx/config: decode exam types: %w", err)
	}

	out := make([]domain.ExamType, 0, len(apiTypes))
	for _, t := range apiTypes {
		out = append(out, t.ToDomain())
	}
	return out, nil
}

// ErrRejected wraps a well-formed error envelope (success=false). The config
// service answers unknown or disabled selections this way, so rejections of
// a combined config also wrap domain.ErrInvalidSelection.
var ErrRejected = errors.New("fundx: request rejected")

// CombinedConfig fetches the phase and exam type rules merged server-side.
func (c *Client) CombinedConfig(ctx context.Context, phase domain.Phase, examType string) (domain.Offer, error) {
	path := fmt.Sprintf("/api/config/combined/%s/%s", url.PathEscape(string(phase)), url.PathEscape(examType))

	body, err := c.do(ctx, http.MethodGet, c.configURL, path, nil, nil)
	if err != nil {
		return domain.Offer{}, fmt.Errorf("fundx/config: combined %s/%s: %w", phase, examType, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.Offer{}, fmt.Errorf("fundx/config: decode combined config: %w", err)
	}
	if !env.Success {
		return domain.Offer{}, fmt.Errorf("fundx/config: combined %s/%s: %w: %w: %s",
			phase, examType, ErrRejected, domain.ErrInvalidSelection, env.errText())
	}

	var cc APICombinedConfig
	if err := json.Unmarshal(env.Data, &cc); err != nil {
		return domain.Offer{}, fmt.Errorf("fundx/config: decode combined config: %w", err)
	}
	return cc.ToDomain(phase, examType), nil
}
