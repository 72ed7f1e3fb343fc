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
	"context"

	"github.com/go-logr/logr"
)

// Type identifies one outcome event of the transfer lifecycle.
type Type string

const (
	TransferInitialized      Type = "transfer.initialized"
	TransferUploadProcessing Type = "transfer.upload_processing"
	TransferPublished        Type = "transfer.published"
	UploadFailed             Type = "transfer.upload_failed"
	DownloadConfirmed        Type = "transfer.download_confirmed"
	AllConfirmedDownloaded   Type = "transfer.all_confirmed_downloaded"
	NeverConfirmedDownloaded Type = "transfer.never_confirmed_downloaded"
	TransferPurged           Type = "transfer.purged"
	TransferCancelled        Type = "transfer.cancelled"
)

// Publisher delivers outcome events. Delivery is fire-and-forget: failures
// are logged by the implementation, never propagated, and downstream
// consumers must treat delivery as at-least-once.
type Publisher interface {
	Publish(ctx context.Context, eventType Type, resourceID, transferID, subject string)
}

// Notifier raises operational alerts (the stuck-transfer monitor's output).
type Notifier interface {
	Alert(ctx context.Context, message string, details map[string]string)
}

// NewLogPublisher writes events to the log only; the default wiring when no
// webhook endpoint is configured.
func NewLogPublisher(log logr.Logger) Publisher {
	return &logPublisher{log: log.WithName("events")}
}

type logPublisher struct {
	log logr.Logger
}

func (p *logPublisher) Publish(ctx context.Context, eventType Type, resourceID, transferID, subject string) {
	p.log.Info("event", "type", eventType, "resource", resourceID, "transfer", transferID, "subject", subject)
}

// NewLogNotifier writes alerts to the log only.
func NewLogNotifier(log logr.Logger) Notifier {
	return &logNotifier{log: log.WithName("alerts")}
}

type logNotifier struct {
	log logr.Logger
}

func (n *logNotifier) Alert(ctx context.Context, message string, details map[string]string) {
	kv := make([]interface{}, 0, len(details)*2)
	for k, v := range details {
		kv = append(kv, k, v)
	}
	n.log.Info(message, kv...)
}
