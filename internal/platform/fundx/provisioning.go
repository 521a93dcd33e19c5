package fundx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/alanyoungcy/fundxeval/internal/domain"
)

const provisionPath = "/api/evaluation/create"

// Provision asks the provisioning service to create and fund the trading
// account for a confirmed payment. The service is idempotent on the
// transaction hash. A decoded success=false response is returned together
// with a nil error; transport and status failures return an error.
func (c *Client) Provision(ctx context.Context, req domain.ProvisionRequest) (domain.ProvisionResult, error) {
	var extra map[string]string
	if c.wallet != nil {
		sig, err := c.wallet.SignMessage([]byte(req.TransactionHash))
		if err != nil {
			return domain.ProvisionResult{}, fmt.Errorf("fundx/provisioning: sign %s: %w", req.TransactionHash, err)
		}
		extra = map[string]string{HeaderWalletSignature: sig}
	}

	body, err := c.do(ctx, http.MethodPost, c.provisioningURL, provisionPath, req, extra)
	if err != nil {
		// Error responses usually still carry the envelope; surface its text.
		var res domain.ProvisionResult
		if jsonErr := json.Unmarshal(body, &res); jsonErr == nil && res.Error != "" {
			return res, fmt.Errorf("fundx/provisioning: %s: %w", res.Error, err)
		}
		return domain.ProvisionResult{}, fmt.Errorf("fundx/provisioning: create %s: %w", req.TransactionHash, err)
	}

	var res domain.ProvisionResult
	if err := json.Unmarshal(body, &res); err != nil {
		return domain.ProvisionResult{}, fmt.Errorf("fundx/provisioning: decode response: %w", err)
	}
	return res, nil
}
