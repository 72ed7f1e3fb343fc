// Copyright 2021 IBM Corp.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package events

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"emperror.dev/errors"
	"github.com/go-logr/logr"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
)

// WebhookPublisher POSTs events as JSON to a configured endpoint. Transport
// retries live inside the retryable client; a delivery that still fails is
// logged and dropped, per the at-least-once contract with consumers.
type WebhookPublisher struct {
	url    string
	client *retryablehttp.Client
	log    logr.Logger
}

type eventBody struct {
	Event      Type      `json:"event"`
	ResourceID string    `json:"resourceId"`
	TransferID string    `json:"transferId"`
	Subject    string    `json:"subject,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewWebhookPublisher(url string, log logr.Logger) *WebhookPublisher {
	return &WebhookPublisher{
		url:    url,
		client: newClient(),
		log:    log.WithName("webhook_events"),
	}
}

func (p *WebhookPublisher) Publish(ctx context.Context, eventType Type, resourceID, transferID, subject string) {
	body := eventBody{
		Event:      eventType,
		ResourceID: resourceID,
		TransferID: transferID,
		Subject:    subject,
		Timestamp:  time.Now(),
	}

	if err := post(ctx, p.client, p.url, body); err != nil {
		p.log.Error(err, "event delivery failed", "type", eventType, "transfer", transferID)
		return
	}
	p.log.V(1).Info("delivered event", "type", eventType, "transfer", transferID)
}

// WebhookNotifier POSTs operational alerts to a chat-style webhook.
type WebhookNotifier struct {
	url    string
	client *retryablehttp.Client
	log    logr.Logger
}

type alertBody struct {
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func NewWebhookNotifier(url string, log logr.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: newClient(),
		log:    log.WithName("webhook_alerts"),
	}
}

func (n *WebhookNotifier) Alert(ctx context.Context, message string, details map[string]string) {
	if err := post(ctx, n.client, n.url, alertBody{Message: message, Details: details}); err != nil {
		n.log.Error(err, "alert delivery failed", "message", message)
	}
}

func newClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	return client
}

func post(ctx context.Context, client *retryablehttp.Client, url string, body interface{}) error {
	bs, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return errors.NewWithDetails("endpoint rejected the delivery", "status", resp.StatusCode)
	}
	return nil
}
