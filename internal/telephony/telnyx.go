package telephony

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"voip-dashboard/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// TelnyxGateway talks to the Telnyx v2 REST API with bearer auth and a
// fixed per-request timeout.
type TelnyxGateway struct {
	client *resty.Client
	log    *zap.Logger
}

func NewTelnyxGateway(cfg config.TelnyxConfig, log *zap.Logger) *TelnyxGateway {
	if log == nil {
		log = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.APIKey).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	return &TelnyxGateway{client: client, log: log.Named("telnyx")}
}

type dataEnvelope[T any] struct {
	Data T `json:"data"`
}

type apiErrors struct {
	Errors []struct {
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (e *apiErrors) summary() string {
	if e == nil || len(e.Errors) == 0 {
		return ""
	}
	first := e.Errors[0]
	if first.Detail != "" {
		return first.Detail
	}
	return first.Title
}

func (g *TelnyxGateway) CreateCall(ctx context.Context, req CreateCallRequest) (CallHandle, error) {
	body := map[string]any{
		"connection_id": req.ConnectionID,
		"from":          req.From,
		"to":            req.To,
	}
	if req.TimeoutSecs > 0 {
		body["timeout_secs"] = req.TimeoutSecs
	}

	var out dataEnvelope[CallHandle]
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErrors{}).
		Post("/calls")
	if err := g.check("create call", resp, err); err != nil {
		return CallHandle{}, err
	}
	return out.Data, nil
}

func (g *TelnyxGateway) Answer(ctx context.Context, callControlID string) error {
	return g.action(ctx, callControlID, "answer", map[string]any{})
}

func (g *TelnyxGateway) Hangup(ctx context.Context, callControlID string) error {
	return g.action(ctx, callControlID, "hangup", map[string]any{})
}

func (g *TelnyxGateway) Reject(ctx context.Context, callControlID string) error {
	return g.action(ctx, callControlID, "reject", map[string]any{"cause": "CALL_REJECTED"})
}

func (g *TelnyxGateway) SendDTMF(ctx context.Context, callControlID, digits string) error {
	return g.action(ctx, callControlID, "send_dtmf", map[string]any{"digits": digits})
}

func (g *TelnyxGateway) ConnectWebRTC(ctx context.Context, callControlID, clientState string) error {
	body := map[string]any{}
	if clientState != "" {
		body["client_state"] = clientState
	}
	return g.action(ctx, callControlID, "connect_webrtc", body)
}

func (g *TelnyxGateway) LookupNumber(ctx context.Context, phoneNumber string) (NumberInfo, error) {
	var out dataEnvelope[[]NumberInfo]
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("filter[phone_number]", phoneNumber).
		SetResult(&out).
		SetError(&apiErrors{}).
		Get("/phone_numbers")
	if err := g.check("lookup number", resp, err); err != nil {
		return NumberInfo{}, err
	}
	if len(out.Data) == 0 {
		return NumberInfo{}, ErrProviderNotFound
	}
	return out.Data[0], nil
}

func (g *TelnyxGateway) AssignConnection(ctx context.Context, providerNumberID, connectionID string) error {
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"connection_id": connectionID}).
		SetError(&apiErrors{}).
		Patch("/phone_numbers/" + url.PathEscape(providerNumberID))
	return g.check("assign connection", resp, err)
}

func (g *TelnyxGateway) action(ctx context.Context, callControlID, name string, body map[string]any) error {
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(body).
		SetError(&apiErrors{}).
		Post(fmt.Sprintf("/calls/%s/actions/%s", url.PathEscape(callControlID), name))
	return g.check(name, resp, err)
}

func (g *TelnyxGateway) check(op string, resp *resty.Response, err error) error {
	if err != nil {
		g.log.Warn("provider request failed", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("telephony: %s: %w", op, err)
	}
	if !resp.IsError() {
		return nil
	}
	if resp.StatusCode() == http.StatusNotFound {
		return ErrProviderNotFound
	}
	var detail string
	if e, ok := resp.Error().(*apiErrors); ok {
		detail = e.summary()
	}
	g.log.Warn("provider rejected request",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode()),
		zap.String("detail", detail))
	return &ProviderError{Op: op, Status: resp.StatusCode(), Detail: detail}
}
