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

// Package restapi is the thin external request surface: it
// decodes and validates the wire shapes, delegates to the transfer engine and
// bid store, and translates typed errors into HTTP status codes via the
// message catalogue's status hints. CORS is permissive on all routes.
package restapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/pantos-io/servicenode/internal/log"
	"github.com/pantos-io/servicenode/internal/model"
	"github.com/pantos-io/servicenode/internal/signer"
	"github.com/pantos-io/servicenode/internal/transfer"
	"github.com/pantos-io/servicenode/pkg/servicenodeapi"
)

// TransferEngine is the slice of *transfer.Engine the API needs.
type TransferEngine interface {
	Initiate(ctx context.Context, req *transfer.InitiateRequest, now time.Time) (uuid.UUID, error)
	Find(ctx context.Context, taskID uuid.UUID) (*model.Transfer, error)
}

// BidReader is satisfied by *store.BidStore.
type BidReader interface {
	Find(ctx context.Context, src, dst model.ChainID) ([]*model.Bid, error)
}

// NodeChecker is satisfied by *health.Checker.
type NodeChecker interface {
	CheckNodes(ctx context.Context) map[string]servicenodeapi.NodeHealth
}

// ChainContracts carries the configured hub/forwarder addresses the intake
// records on each new transfer; the addresses are the node's own
// configuration for the source chain, not read off the chain.
type ChainContracts struct {
	Hub       common.Address
	Forwarder common.Address
}

type Config struct {
	Host           string
	Port           int
	SSLCertificate string
	SSLPrivateKey  string
}

type Server struct {
	conf      Config
	engine    TransferEngine
	bids      BidReader
	bidSigner *signer.BidSigner
	checker   NodeChecker
	contracts map[model.ChainID]ChainContracts

	http *http.Server
}

func NewServer(
	conf Config,
	engine TransferEngine,
	bids BidReader,
	bidSigner *signer.BidSigner,
	checker NodeChecker,
	contracts map[model.ChainID]ChainContracts,
) *Server {
	s := &Server{
		conf:      conf,
		engine:    engine,
		bids:      bids,
		bidSigner: bidSigner,
		checker:   checker,
		contracts: contracts,
	}
	router := mux.NewRouter()
	router.HandleFunc("/transfer", s.postTransfer).Methods(http.MethodPost)
	router.HandleFunc("/transfer/{task_id}/status", s.getTransferStatus).Methods(http.MethodGet)
	router.HandleFunc("/bids", s.getBids).Methods(http.MethodGet)
	router.HandleFunc("/health/live", s.getLive).Methods(http.MethodGet)
	router.HandleFunc("/health/nodes", s.getNodesHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		Handler:           cors.AllowAll().Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Serve blocks until the server stops. TLS is used when both
// application.ssl_certificate and application.ssl_private_key are set.
func (s *Server) Serve(ctx context.Context) error {
	log.L(ctx).Infof("rest api listening on %s", s.http.Addr)
	var err error
	if s.conf.SSLCertificate != "" && s.conf.SSLPrivateKey != "" {
		err = s.http.ListenAndServeTLS(s.conf.SSLCertificate, s.conf.SSLPrivateKey)
	} else {
		err = s.http.ListenAndServe()
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the configured handler chain for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

var errCodePattern = regexp.MustCompile(`^(PSN[0-9]+):`)

// statusForError maps a typed catalogue error onto its registered HTTP
// status hint, defaulting to 500 for anything unclassified.
func statusForError(err error) int {
	if match := errCodePattern.FindStringSubmatch(err.Error()); match != nil {
		if status, ok := i18n.GetStatusHint(match[1]); ok {
			return status
		}
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Message string `json:"message"`
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		log.L(ctx).Errorf("internal error serving request: %s", err)
		writeJSON(w, status, errorBody{Message: "internal server error"})
		return
	}
	log.L(ctx).Warnf("request rejected: %s", err)
	writeJSON(w, status, errorBody{Message: err.Error()})
}
