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

// Package blockchain defines the uniform per-chain client interface, with
// variants per chain family. EVM variants share internal/blockchain/evm;
// internal/blockchain/solana is a stub variant.
package blockchain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pantos-io/servicenode/internal/model"
)

// TransferSubmission is the request shape shared by StartTransferSubmission
// and StartTransferFromSubmission.
type TransferSubmission struct {
	InternalID         string
	Sender             common.Address
	Recipient          common.Address
	SourceToken        common.Address
	DestinationToken   common.Address
	Amount             *big.Int
	Fee                *big.Int
	SenderNonce        uint64
	Signature          []byte
	SourceHub          common.Address
	SourceForwarder    common.Address
	DestinationChainID model.ChainID
	BlockchainNonce    uint64
}

// SubmissionStatus is the result of polling GetTransferSubmissionStatus.
type SubmissionStatus struct {
	Complete          bool
	Reverted          bool
	TransactionHash   string
	OnChainTransferID *big.Int
}

// Client is the uniform per-chain blockchain client.
type Client interface {
	Chain() model.ChainID

	IsNodeRegistered(ctx context.Context) (bool, error)
	IsValidAddress(address string) bool
	IsValidRecipientAddress(address string) bool
	ReadNodeURL(ctx context.Context) (string, error)
	IsUnbonding(ctx context.Context) (bool, error)

	RegisterNode(ctx context.Context, url string, deposit *big.Int, withdrawalAddress common.Address) error
	UnregisterNode(ctx context.Context) error
	CancelUnregistration(ctx context.Context) error
	UpdateNodeURL(ctx context.Context, url string) error

	GetValidatorFeeFactor(ctx context.Context) (*big.Int, error)
	MinimumServiceNodeDeposit(ctx context.Context) (*big.Int, error)

	// LatestAccountNonce satisfies nonce.ChainNonceReader.
	LatestAccountNonce(ctx context.Context, chain model.ChainID) (uint64, error)

	OwnTokenBalance(ctx context.Context) (*big.Int, error)

	StartTransferSubmission(ctx context.Context, req *TransferSubmission) (internalTransactionID string, err error)
	StartTransferFromSubmission(ctx context.Context, req *TransferSubmission) (internalTransactionID string, err error)
	GetTransferSubmissionStatus(ctx context.Context, handle string, destChainSameAsSource bool) (*SubmissionStatus, error)
}

// Typed preflight/outcome errors classified by the transfer engine's
// execute step. Each wraps the underlying cause so callers can still log
// or compare it with errors.Is/As.
type classifiedError struct {
	kind string
	err  error
}

func (e *classifiedError) Error() string { return e.kind + ": " + e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

func newClassified(kind string, err error) *classifiedError { return &classifiedError{kind: kind, err: err} }

func NewInsufficientBalanceError(err error) error { return newClassified("insufficient_balance", err) }
func NewInvalidSignatureError(err error) error    { return newClassified("invalid_signature", err) }
func NewNonceTooLowError(err error) error         { return newClassified("nonce_too_low", err) }
func NewUnderpricedError(err error) error         { return newClassified("underpriced", err) }
func NewMaxTotalFeeExceededError(err error) error { return newClassified("max_total_fee_exceeded", err) }
func NewUnresolvableError(err error) error        { return newClassified("unresolvable", err) }

func IsKind(err error, kind string) bool {
	ce, ok := err.(*classifiedError)
	return ok && ce.kind == kind
}

const (
	KindInsufficientBalance = "insufficient_balance"
	KindInvalidSignature    = "invalid_signature"
	KindNonceTooLow         = "nonce_too_low"
	KindUnderpriced         = "underpriced"
	KindMaxTotalFeeExceeded = "max_total_fee_exceeded"
	KindUnresolvable        = "unresolvable"
)
