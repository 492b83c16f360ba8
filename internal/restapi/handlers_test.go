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

package restapi

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/sha1" // #nosec G505 - matches the PBKDF2 PRF of the key container under test
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/pbkdf2"

	"github.com/pantos-io/servicenode/internal/bid"
	"github.com/pantos-io/servicenode/internal/model"
	"github.com/pantos-io/servicenode/internal/msgs"
	"github.com/pantos-io/servicenode/internal/signer"
	"github.com/pantos-io/servicenode/internal/transfer"
	"github.com/pantos-io/servicenode/pkg/servicenodeapi"
)

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type encryptedPrivateKeyInfo struct {
	Algo          algorithmIdentifier
	EncryptedData []byte
}

type pbes2Params struct {
	KeyDerivationFunc algorithmIdentifier
	EncryptionScheme  algorithmIdentifier
}

type pbkdf2Params struct {
	Salt           []byte
	IterationCount int
	KeyLength      int                 `asn1:"optional"`
	PRF            algorithmIdentifier `asn1:"optional"`
}

var (
	oidPBES2     = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 5, 13}
	oidPBKDF2    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 5, 12}
	oidAES128CBC = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 2}
)

func newTestBidSigner(t *testing.T) *signer.BidSigner {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)

	passphrase := "test-passphrase"
	salt := []byte("0123456789abcdef")
	iv := []byte("abcdef0123456789")
	iterations, keyLen := 1000, 16

	key := pbkdf2.Key([]byte(passphrase), salt, iterations, keyLen, sha1.New)
	blockCipher, err := aes.NewCipher(key)
	require.NoError(t, err)
	padLen := aes.BlockSize - len(der)%aes.BlockSize
	padded := append(der, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(blockCipher, iv).CryptBlocks(ciphertext, padded)

	ivBytes, err := asn1.Marshal(iv)
	require.NoError(t, err)
	kdfBytes, err := asn1.Marshal(pbkdf2Params{Salt: salt, IterationCount: iterations, KeyLength: keyLen})
	require.NoError(t, err)
	pbes2Bytes, err := asn1.Marshal(pbes2Params{
		KeyDerivationFunc: algorithmIdentifier{Algorithm: oidPBKDF2, Parameters: asn1.RawValue{FullBytes: kdfBytes}},
		EncryptionScheme:  algorithmIdentifier{Algorithm: oidAES128CBC, Parameters: asn1.RawValue{FullBytes: ivBytes}},
	})
	require.NoError(t, err)
	epki, err := asn1.Marshal(encryptedPrivateKeyInfo{
		Algo:          algorithmIdentifier{Algorithm: oidPBES2, Parameters: asn1.RawValue{FullBytes: pbes2Bytes}},
		EncryptedData: ciphertext,
	})
	require.NoError(t, err)

	dir := t.TempDir()
	pemPath := filepath.Join(dir, "signer.pem")
	passPath := filepath.Join(dir, "signer.pem.pass")
	require.NoError(t, os.WriteFile(pemPath, pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: epki}), 0600))
	require.NoError(t, os.WriteFile(passPath, []byte(passphrase), 0600))

	s, err := signer.NewBidSigner(context.Background(), signer.BidKeyConfig{PEMPath: pemPath, PEMPasswordPath: passPath})
	require.NoError(t, err)
	return s
}

type fakeEngine struct {
	initiateReq *transfer.InitiateRequest
	initiateID  uuid.UUID
	initiateErr error

	found   *model.Transfer
	findErr error
}

func (f *fakeEngine) Initiate(ctx context.Context, req *transfer.InitiateRequest, now time.Time) (uuid.UUID, error) {
	f.initiateReq = req
	return f.initiateID, f.initiateErr
}

func (f *fakeEngine) Find(ctx context.Context, taskID uuid.UUID) (*model.Transfer, error) {
	return f.found, f.findErr
}

type fakeBids struct {
	bids []*model.Bid
	err  error
}

func (f *fakeBids) Find(ctx context.Context, src, dst model.ChainID) ([]*model.Bid, error) {
	return f.bids, f.err
}

type fakeChecker struct {
	nodes map[string]servicenodeapi.NodeHealth
}

func (f *fakeChecker) CheckNodes(ctx context.Context) map[string]servicenodeapi.NodeHealth {
	return f.nodes
}

const (
	senderAddr    = "0xaAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa"
	recipientAddr = "0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB"
	tokenAddr     = "0xCcCCccccCCCCcCCCCCCcCcCccCcCCCcCcccccccC"
	hubAddr       = "0x1111111111111111111111111111111111111111"
	forwarderAddr = "0x2222222222222222222222222222222222222222"
)

func newTestServer(t *testing.T, engine *fakeEngine, bids *fakeBids) *Server {
	t.Helper()
	contracts := map[model.ChainID]ChainContracts{
		1: {Hub: common.HexToAddress(hubAddr), Forwarder: common.HexToAddress(forwarderAddr)},
		3: {Hub: common.HexToAddress(hubAddr), Forwarder: common.HexToAddress(forwarderAddr)},
	}
	checker := &fakeChecker{nodes: map[string]servicenodeapi.NodeHealth{
		"ethereum": {Healthy: true, BlockHeight: 42},
	}}
	return NewServer(Config{Host: "127.0.0.1", Port: 0}, engine, bids, newTestBidSigner(t), checker, contracts)
}

func transferBody(now time.Time) map[string]any {
	return map[string]any{
		"source_blockchain_id":      1,
		"destination_blockchain_id": 3,
		"sender_address":            senderAddr,
		"recipient_address":         recipientAddr,
		"source_token_address":      tokenAddr,
		"destination_token_address": tokenAddr,
		"amount":                    5,
		"nonce":                     22222,
		"valid_until":               now.Unix() + 200000,
		"signature":                 "0xdeadbeef",
		"bid": map[string]any{
			"fee":            500000,
			"execution_time": 100000,
			"valid_until":    now.Unix() + 200000,
			"signature":      "0xfeedface",
		},
	}
}

func postTransfer(t *testing.T, s *Server, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/transfer", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestPostTransferAccepted(t *testing.T) {
	taskID := uuid.New()
	engine := &fakeEngine{initiateID: taskID}
	s := newTestServer(t, engine, &fakeBids{})

	rec := postTransfer(t, s, transferBody(time.Now()))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp servicenodeapi.TransferResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, taskID.String(), resp.TaskID)

	// The configured hub/forwarder of the source chain must be recorded on
	// the intake request, and the bid fee doubles as the transfer fee.
	require.NotNil(t, engine.initiateReq)
	assert.Equal(t, common.HexToAddress(hubAddr), engine.initiateReq.SourceHub)
	assert.Equal(t, common.HexToAddress(forwarderAddr), engine.initiateReq.SourceForwarder)
	assert.Equal(t, big.NewInt(500000), engine.initiateReq.Fee)
	assert.Equal(t, uint64(22222), engine.initiateReq.SenderNonce)
	assert.Equal(t, uint64(100000), engine.initiateReq.Bid.ExecutionTime)
}

func TestPostTransferNonceConflict(t *testing.T) {
	engine := &fakeEngine{
		initiateErr: i18n.NewError(context.Background(), msgs.MsgSenderNonceNotUnique, 22222),
	}
	s := newTestServer(t, engine, &fakeBids{})

	rec := postTransfer(t, s, transferBody(time.Now()))
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
	assert.Contains(t, rec.Body.String(), "sender nonce 22222 is not unique")
}

func TestPostTransferBidRejected(t *testing.T) {
	engine := &fakeEngine{
		initiateErr: i18n.NewError(context.Background(), msgs.MsgBidNotAccepted),
	}
	s := newTestServer(t, engine, &fakeBids{})

	rec := postTransfer(t, s, transferBody(time.Now()))
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
}

func TestPostTransferUnknownChain(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, &fakeBids{})
	body := transferBody(time.Now())
	body["source_blockchain_id"] = 99

	rec := postTransfer(t, s, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostTransferBadSenderAddress(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, &fakeBids{})
	body := transferBody(time.Now())
	body["sender_address"] = "zz-not-an-address"

	rec := postTransfer(t, s, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostTransferInternalError(t *testing.T) {
	engine := &fakeEngine{initiateErr: fmt.Errorf("database exploded")}
	s := newTestServer(t, engine, &fakeBids{})

	rec := postTransfer(t, s, transferBody(time.Now()))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "database exploded")
}

func TestGetTransferStatusNotUUID(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, &fakeBids{})
	req := httptest.NewRequest(http.MethodGet, "/transfer/not-a-uuid/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "is not a UUID")
}

func TestGetTransferStatusUnknownTask(t *testing.T) {
	taskID := uuid.New()
	engine := &fakeEngine{
		findErr: i18n.NewError(context.Background(), msgs.MsgTransferNotFound, taskID.String()),
	}
	s := newTestServer(t, engine, &fakeBids{})
	req := httptest.NewRequest(http.MethodGet, "/transfer/"+taskID.String()+"/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTransferStatusProjectsPublicStatus(t *testing.T) {
	taskID := uuid.New()
	engine := &fakeEngine{found: &model.Transfer{
		InternalID:       uuid.New(),
		SourceChain:      1,
		DestinationChain: 3,
		Sender:           common.HexToAddress(senderAddr),
		Recipient:        common.HexToAddress(recipientAddr),
		SourceToken:      common.HexToAddress(tokenAddr),
		DestinationToken: common.HexToAddress(tokenAddr),
		Amount:           big.NewInt(5),
		Fee:              big.NewInt(500000),
		Status:           model.StatusAcceptedNewNonceAssigned,
	}}
	s := newTestServer(t, engine, &fakeBids{})
	req := httptest.NewRequest(http.MethodGet, "/transfer/"+taskID.String()+"/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp servicenodeapi.TransferStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// The internal nonce-assigned tag collapses to the public "accepted",
	// and unset ids are empty strings, never null.
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, "", resp.TransferID)
	assert.Equal(t, "", resp.TransactionID)
	assert.Equal(t, uint64(1), resp.SourceBlockchainID)
	assert.Equal(t, "5", resp.Amount)
}

// The opaque submission handle a SUBMITTED transfer carries is internal
// state for the confirm poll; the status endpoint must render an empty
// transaction_id until confirmation or revert records the real hash.
func TestGetTransferStatusSubmittedHidesInternalHandle(t *testing.T) {
	taskID := uuid.New()
	handle := "1:0xhash:7"
	engine := &fakeEngine{found: &model.Transfer{
		SourceChain:           1,
		DestinationChain:      3,
		Amount:                big.NewInt(5),
		Fee:                   big.NewInt(500000),
		Status:                model.StatusSubmitted,
		InternalTransactionID: &handle,
	}}
	s := newTestServer(t, engine, &fakeBids{})
	req := httptest.NewRequest(http.MethodGet, "/transfer/"+taskID.String()+"/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp servicenodeapi.TransferStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "submitted", resp.Status)
	assert.Equal(t, "", resp.TransactionID)
	assert.NotContains(t, rec.Body.String(), handle)
}

func TestGetTransferStatusConfirmed(t *testing.T) {
	taskID := uuid.New()
	txID := "0xabc123"
	engine := &fakeEngine{found: &model.Transfer{
		SourceChain:       1,
		DestinationChain:  3,
		Amount:            big.NewInt(5),
		Fee:               big.NewInt(500000),
		Status:            model.StatusConfirmed,
		OnChainTransferID: big.NewInt(77),
		TransactionID:     &txID,
	}}
	s := newTestServer(t, engine, &fakeBids{})
	req := httptest.NewRequest(http.MethodGet, "/transfer/"+taskID.String()+"/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp servicenodeapi.TransferStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "confirmed", resp.Status)
	assert.Equal(t, "77", resp.TransferID)
	assert.Equal(t, txID, resp.TransactionID)
}

func TestGetBidsMissingParams(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, &fakeBids{})
	req := httptest.NewRequest(http.MethodGet, "/bids?source_blockchain=1", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBidsSignsFresh(t *testing.T) {
	validUntil := time.Now().Add(5 * time.Minute).Truncate(time.Second)
	stored := &model.Bid{
		SourceChain:      1,
		DestinationChain: 3,
		ExecutionTime:    100000,
		Fee:              big.NewInt(500000),
		ValidUntil:       validUntil,
	}
	s := newTestServer(t, &fakeEngine{}, &fakeBids{bids: []*model.Bid{stored}})

	req := httptest.NewRequest(http.MethodGet, "/bids?source_blockchain=1&destination_blockchain=3", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []servicenodeapi.BidResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "500000", resp[0].Fee)
	assert.Equal(t, uint64(100000), resp[0].ExecutionTime)
	assert.Equal(t, validUntil.Unix(), resp[0].ValidUntil)

	// The returned signature must verify over the canonical bid message.
	sig, err := hex.DecodeString(resp[0].Signature)
	require.NoError(t, err)
	assert.True(t, signer.Verify(s.bidSigner.PublicKey(), bid.CanonicalMessage(stored), sig))
}

func TestHealthLive(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, &fakeBids{})
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthNodes(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, &fakeBids{})
	req := httptest.NewRequest(http.MethodGet, "/health/nodes", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]servicenodeapi.NodeHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp["ethereum"].Healthy)
	assert.Equal(t, uint64(42), resp["ethereum"].BlockHeight)
}
