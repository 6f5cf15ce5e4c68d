package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const DefaultBaseURL = "https://console.vast.ai/api/v0"

type rest struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewREST returns a Client talking to the marketplace REST API, authenticated
// with the given API key.
func NewREST(baseURL, apiKey string) (Client, error) {
	if apiKey == "" {
		return nil, errors.New("marketplace api key is required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &rest{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type offerPayload struct {
	ID          int     `json:"id"`
	GPUName     string  `json:"gpu_name"`
	GPURAMGb    int     `json:"gpu_total_ram"`
	PriceHour   float64 `json:"dph_total"`
	Reliability float64 `json:"reliability2"`
	Region      string  `json:"geolocation"`
	IsBid       bool    `json:"is_bid"`
	Rentable    bool    `json:"rentable"`
}

type instancePayload struct {
	ID        int     `json:"id"`
	AskID     int     `json:"ask_contract_id"`
	Label     string  `json:"label"`
	GPUName   string  `json:"gpu_name"`
	Status    string  `json:"actual_status"`
	SSHHost   string  `json:"ssh_host"`
	SSHPort   int     `json:"ssh_port"`
	SSHUser   string  `json:"ssh_user"`
	PriceHour float64 `json:"dph_total"`
	StartDate float64 `json:"start_date"`
}

type apiResult struct {
	Success     bool   `json:"success"`
	Error       string `json:"error"`
	Msg         string `json:"msg"`
	NewContract int    `json:"new_contract"`
}

func (r *rest) SearchOffers(ctx context.Context, filter Filter) ([]Offer, error) {
	// The feed is fetched wide and filtered client-side: the server-side query
	// language does not cover reliability or spot exclusion.
	var body struct {
		Offers []offerPayload `json:"offers"`
	}

	if err := r.do(ctx, http.MethodGet, "/bundles?limit=200", nil, &body); err != nil {
		return nil, err
	}

	var offers []Offer

	for _, p := range body.Offers {
		if !p.Rentable {
			continue
		}

		offer := Offer{
			ID:           p.ID,
			GPUName:      p.GPUName,
			VRAMGb:       p.GPURAMGb,
			PricePerHour: p.PriceHour,
			Reliability:  p.Reliability,
			Region:       p.Region,
			Spot:         p.IsBid,
		}

		if filter.Matches(offer) {
			offers = append(offers, offer)
		}
	}

	SortOffers(offers)

	log.WithField("count", len(offers)).Debug("offers matching filter")

	return offers, nil
}

func (r *rest) CreateInstance(ctx context.Context, offerID int, spec InstanceSpec) (*Instance, error) {
	payload := map[string]interface{}{
		"image":   spec.Image,
		"disk":    spec.DiskSizeGb,
		"runtype": "ssh",
	}

	if spec.Label != "" {
		payload["label"] = spec.Label
	}

	if spec.OnStart != "" {
		payload["onstart"] = spec.OnStart
	}

	if len(spec.Env) > 0 {
		payload["env"] = spec.Env
	}

	var result apiResult

	if err := r.do(ctx, http.MethodPut, fmt.Sprintf("/asks/%d/", offerID), payload, &result); err != nil {
		return nil, err
	}

	if !result.Success {
		return nil, classifyAPIError(result, offerID)
	}

	if result.NewContract == 0 {
		return nil, errors.New("instance created but no contract id returned")
	}

	return r.GetInstance(ctx, result.NewContract)
}

func (r *rest) GetInstance(ctx context.Context, instanceID int) (*Instance, error) {
	var body struct {
		Instances []instancePayload `json:"instances"`
	}

	if err := r.do(ctx, http.MethodGet, fmt.Sprintf("/instances/%d/", instanceID), nil, &body); err != nil {
		return nil, err
	}

	if len(body.Instances) == 0 {
		return nil, errors.Wrapf(ErrInstanceNotFound, "instance %d", instanceID)
	}

	return parseInstance(body.Instances[0]), nil
}

func (r *rest) ListInstances(ctx context.Context) ([]*Instance, error) {
	var body struct {
		Instances []instancePayload `json:"instances"`
	}

	if err := r.do(ctx, http.MethodGet, "/instances/", nil, &body); err != nil {
		return nil, err
	}

	instances := make([]*Instance, 0, len(body.Instances))

	for _, p := range body.Instances {
		instances = append(instances, parseInstance(p))
	}

	return instances, nil
}

func (r *rest) DestroyInstance(ctx context.Context, instanceID int) (bool, error) {
	var result apiResult

	err := r.do(ctx, http.MethodDelete, fmt.Sprintf("/instances/%d/", instanceID), nil, &result)

	if err != nil {
		// Destroying an instance the provider no longer knows about is a
		// success, never an error.
		if IsNotFound(err) {
			return true, nil
		}
		return false, err
	}

	// An empty body is a success; a body refusing the destroy is not, and
	// must never be mistaken for one: the instance keeps billing.
	if !result.Success && result.Error != "" {
		return false, classifyAPIError(result, 0)
	}

	return true, nil
}

// do performs one API call. Transport failures and auth rejections wrap
// ErrConnectivity; provider-side refusals are classified by status code and
// body before being returned to the caller.
func (r *rest) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader

	if payload != nil {
		data, err := json.Marshal(payload)

		if err != nil {
			return errors.Wrap(err, "encode request")
		}

		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)

	if err != nil {
		return errors.Wrap(err, "build request")
	}

	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)

	if err != nil {
		return connectivityErr(err, method+" "+path)
	}

	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)

	if err != nil {
		return connectivityErr(err, "read response")
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return errors.Wrapf(ErrConnectivity, "authentication rejected (%d)", resp.StatusCode)
	case resp.StatusCode == http.StatusPaymentRequired:
		return errors.WithStack(ErrInsufficientCredit)
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return errors.Wrapf(ErrInstanceNotFound, "%s %s: %d", method, path, resp.StatusCode)
	case resp.StatusCode >= 500:
		return errors.Wrapf(ErrConnectivity, "%s %s: server error %d", method, path, resp.StatusCode)
	case resp.StatusCode >= 400:
		var result apiResult
		if json.Unmarshal(data, &result) == nil && result.Error != "" {
			return classifyAPIError(result, 0)
		}
		return errors.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return errors.Wrapf(err, "decode %s %s response", method, path)
		}
	}

	return nil
}

func classifyAPIError(result apiResult, offerID int) error {
	msg := result.Error

	if result.Msg != "" {
		msg = msg + ": " + result.Msg
	}

	switch result.Error {
	case "no_such_ask", "ask_unavailable":
		return errors.Wrapf(ErrOfferUnavailable, "offer %d: %s", offerID, msg)
	case "insufficient_credit", "no_credit":
		return errors.Wrap(ErrInsufficientCredit, msg)
	}

	return errors.Errorf("marketplace refused request: %s", msg)
}

func parseInstance(p instancePayload) *Instance {
	user := p.SSHUser

	if user == "" {
		user = "root"
	}

	return &Instance{
		ID:      p.ID,
		OfferID: p.AskID,
		Label:   p.Label,
		GPUName: p.GPUName,
		Status:  parseStatus(p.Status),
		Endpoint: Endpoint{
			Host: p.SSHHost,
			Port: p.SSHPort,
			User: user,
		},
		PricePerHour: p.PriceHour,
		CreatedAt:    time.Unix(int64(p.StartDate), 0),
	}
}

func parseStatus(s string) Status {
	switch s {
	case "running":
		return StatusRunning
	case "exited", "stopped":
		return StatusStopped
	case "destroyed":
		return StatusDestroyed
	default:
		return StatusProvisioning
	}
}
