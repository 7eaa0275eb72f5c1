package aptos

import (
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "aptos-agent/internal/errors"
)

const (
	addressLength = 32
	hashLength    = common.HashLength
)

// NormalizeAddress accepts short (0x1) and long account addresses, with or
// without the 0x prefix, and returns the long form: 0x followed by 64
// lowercase hex characters.
func NormalizeAddress(raw string) (string, error) {
	body, err := hexBody(raw, "address")
	if err != nil {
		return "", err
	}
	if len(body) > addressLength*2 {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "address is longer than 32 bytes")
	}
	if len(body)%2 == 1 {
		body = "0" + body
	}
	decoded, err := hexutil.Decode("0x" + body)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "address is not valid hex")
	}
	return hexutil.Encode(common.LeftPadBytes(decoded, addressLength)), nil
}

// NormalizeHash validates a 32 byte transaction hash and returns it in
// lowercase 0x form.
func NormalizeHash(raw string) (string, error) {
	body, err := hexBody(raw, "transaction hash")
	if err != nil {
		return "", err
	}
	if len(body) != hashLength*2 {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "transaction hash must be 32 bytes")
	}
	decoded, err := hexutil.Decode("0x" + body)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "transaction hash is not valid hex")
	}
	return common.BytesToHash(decoded).Hex(), nil
}

func hexBody(raw, what string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, what+" is empty")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		trimmed = trimmed[2:]
	}
	if trimmed == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, what+" has no hex digits")
	}
	return trimmed, nil
}

// addressSegment returns the path segment used for an account address.
// Well-formed hex is normalized to the long form; anything else is sent to
// the node as given so that the node decides whether it is valid.
func addressSegment(raw string) (string, error) {
	if normalized, err := NormalizeAddress(raw); err == nil {
		return normalized, nil
	}
	return opaqueSegment(raw, "address")
}

// hashSegment is addressSegment for transaction hashes.
func hashSegment(raw string) (string, error) {
	if normalized, err := NormalizeHash(raw); err == nil {
		return normalized, nil
	}
	return opaqueSegment(raw, "transaction hash")
}

func opaqueSegment(raw, what string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, what+" is empty")
	}
	return url.PathEscape(trimmed), nil
}
