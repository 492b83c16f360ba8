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

package signer

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/sha1" // #nosec G505 - mandated by the PBKDF2 PRF the key-generation tooling uses, not a protocol choice
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"os"
	"strings"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"golang.org/x/crypto/pbkdf2"

	"github.com/pantos-io/servicenode/internal/msgs"
)

var (
	oidPBES2     = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 5, 13}
	oidPBKDF2    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 5, 12}
	oidAES128CBC = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 2}
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

// BidSigner holds the node's Ed25519 bid-signing key, decrypted once at
// startup from signer.{pem,pem_password}. Bids are signed over
// the canonical message `concat("", fee, valid_until, src_id, dst_id,
// execution_time)`.
type BidSigner struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewBidSigner decrypts conf.PEMPath, a PBES2(PBKDF2-HMAC-SHA1,
// AES-128-CBC)-protected PKCS#8 container - the format produced by the
// pantos-io/common key-generation tooling (Crypto.PublicKey.ECC export with
// protection='PBKDF2WithHMAC-SHA1AndAES128-CBC') - using the passphrase
// stored at conf.PEMPasswordPath.
func NewBidSigner(ctx context.Context, conf BidKeyConfig) (*BidSigner, error) {
	pemData, err := os.ReadFile(conf.PEMPath)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgSignerBadPEM, err.Error())
	}
	passData, err := os.ReadFile(conf.PEMPasswordPath)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgSignerBadPEM, err.Error())
	}
	passphrase := strings.TrimSpace(string(passData))

	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, i18n.NewError(ctx, msgs.MsgSignerBadPEM, "no PEM block found")
	}

	plaintext, err := decryptPKCS8(block.Bytes, passphrase)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgSignerBadPEM, err.Error())
	}

	key, err := x509.ParsePKCS8PrivateKey(plaintext)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgSignerBadPEM, err.Error())
	}
	edKey, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, i18n.NewError(ctx, msgs.MsgSignerNotEd25519)
	}
	return &BidSigner{priv: edKey, pub: edKey.Public().(ed25519.PublicKey)}, nil
}

// Sign returns the Ed25519 signature over msg.
func (s *BidSigner) Sign(msg []byte) []byte {
	return ed25519.Sign(s.priv, msg)
}

// PublicKey is published alongside bids so other nodes can verify them.
func (s *BidSigner) PublicKey() ed25519.PublicKey {
	return s.pub
}

// Verify checks sig over msg against pub check 3
// ("Signature").
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(pub, msg, sig)
}

// decryptPKCS8 unwraps a PBES2 encrypted PKCS#8 container into its inner
// (unencrypted) PKCS#8 DER, which x509.ParsePKCS8PrivateKey can then parse.
func decryptPKCS8(der []byte, passphrase string) ([]byte, error) {
	var epki encryptedPrivateKeyInfo
	if _, err := asn1.Unmarshal(der, &epki); err != nil {
		return nil, err
	}
	if !epki.Algo.Algorithm.Equal(oidPBES2) {
		return nil, errors.New("unsupported PEM encryption algorithm (expected PBES2)")
	}
	var params pbes2Params
	if _, err := asn1.Unmarshal(epki.Algo.Parameters.FullBytes, &params); err != nil {
		return nil, err
	}
	if !params.KeyDerivationFunc.Algorithm.Equal(oidPBKDF2) {
		return nil, errors.New("unsupported key derivation function (expected PBKDF2)")
	}
	var kdf pbkdf2Params
	if _, err := asn1.Unmarshal(params.KeyDerivationFunc.Parameters.FullBytes, &kdf); err != nil {
		return nil, err
	}
	if !params.EncryptionScheme.Algorithm.Equal(oidAES128CBC) {
		return nil, errors.New("unsupported encryption scheme (expected AES-128-CBC)")
	}
	var iv []byte
	if _, err := asn1.Unmarshal(params.EncryptionScheme.Parameters.FullBytes, &iv); err != nil {
		return nil, err
	}

	keyLen := kdf.KeyLength
	if keyLen == 0 {
		keyLen = 16
	}
	key := pbkdf2.Key([]byte(passphrase), kdf.Salt, kdf.IterationCount, keyLen, sha1.New)

	blockCipher, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(epki.EncryptedData)%aes.BlockSize != 0 {
		return nil, errors.New("encrypted data is not a multiple of the AES block size")
	}
	plaintext := make([]byte, len(epki.EncryptedData))
	cipher.NewCBCDecrypter(blockCipher, iv).CryptBlocks(plaintext, epki.EncryptedData)

	return pkcs7Unpad(plaintext)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, errors.New("invalid PKCS#7 padding")
	}
	return data[:len(data)-padLen], nil
}
