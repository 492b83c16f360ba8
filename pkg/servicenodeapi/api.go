/*
 * Copyright © 2024 Kaleido, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
 * an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
 * specific language governing permissions and limitations under the License.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package servicenodeapi holds the wire-format DTOs of the REST surface,
// shared between internal/restapi and any Go client of the service node -
// it keeps JSON shapes out of the business-logic packages.
package servicenodeapi

import "encoding/json"

// BidInput is the bid object nested inside a transfer request. Fee, amount
// and nonce values arrive as JSON numbers; json.Number preserves arbitrary
// precision until internal/restapi parses them into big integers.
type BidInput struct {
	ExecutionTime json.Number `json:"execution_time"`
	ValidUntil    json.Number `json:"valid_until"`
	Fee           json.Number `json:"fee"`
	Signature     string      `json:"signature"`
}

// TransferRequest is the body of POST /transfer.
type TransferRequest struct {
	SourceBlockchainID      json.Number `json:"source_blockchain_id"`
	DestinationBlockchainID json.Number `json:"destination_blockchain_id"`
	SenderAddress           string      `json:"sender_address"`
	RecipientAddress        string      `json:"recipient_address"`
	SourceTokenAddress      string      `json:"source_token_address"`
	DestinationTokenAddress string      `json:"destination_token_address"`
	Amount                  json.Number `json:"amount"`
	Nonce                   json.Number `json:"nonce"`
	ValidUntil              json.Number `json:"valid_until"`
	Signature               string      `json:"signature"`
	Bid                     *BidInput   `json:"bid"`
}

// TransferResponse is the 200 body of POST /transfer.
type TransferResponse struct {
	TaskID string `json:"task_id"`
}

// TransferStatusResponse is the 200 body of GET /transfer/<task_id>/status.
// TransferID and TransactionID are emitted as empty strings while unset
//.
type TransferStatusResponse struct {
	TaskID                  string `json:"task_id"`
	SourceBlockchainID      uint64 `json:"source_blockchain_id"`
	DestinationBlockchainID uint64 `json:"destination_blockchain_id"`
	SenderAddress           string `json:"sender_address"`
	RecipientAddress        string `json:"recipient_address"`
	SourceTokenAddress      string `json:"source_token_address"`
	DestinationTokenAddress string `json:"destination_token_address"`
	Amount                  string `json:"amount"`
	Fee                     string `json:"fee"`
	Status                  string `json:"status"`
	TransferID              string `json:"transfer_id"`
	TransactionID           string `json:"transaction_id"`
}

// BidResponse is one element of the GET /bids response array. The signature
// is computed fresh over the canonical bid message on every read.
type BidResponse struct {
	Fee           string `json:"fee"`
	ExecutionTime uint64 `json:"execution_time"`
	ValidUntil    int64  `json:"valid_until"`
	Signature     string `json:"signature"`
}

// NodeHealth is the per-chain entry of the GET /health/nodes response.
type NodeHealth struct {
	Healthy     bool   `json:"healthy"`
	BlockHeight uint64 `json:"block_height,omitempty"`
	Error       string `json:"error,omitempty"`
}
