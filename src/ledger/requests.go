package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mosaicnetworks/indypool/src/common"
	"github.com/mosaicnetworks/indypool/src/wire"
)

// Roles a NYM can grant.
const (
	RoleTrustee  = "0"
	RoleSteward  = "2"
	RoleEndorser = "101"
)

// Nym is the ledger entry of a DID.
type Nym struct {
	Dest       string  `json:"dest"`
	Identifier string  `json:"identifier"`
	Role       *string `json:"role"`
	Verkey     string  `json:"verkey"`
	SeqNo      uint64  `json:"seqNo"`
	TxnTime    uint64  `json:"txnTime"`
}

// GetNym reads a DID. It returns nil when the DID is not on the ledger.
func (c *Client) GetNym(ctx context.Context, submitter, dest string) (*Nym, error) {
	reply, err := c.Read(ctx, submitter, map[string]interface{}{
		"type": wire.GET_NYM,
		"dest": dest,
	})
	if err != nil {
		return nil, err
	}
	if !reply.Found() {
		return nil, nil
	}
	var nym Nym
	if err := json.Unmarshal(reply.Data(), &nym); err != nil {
		return nil, common.WrapPoolErr(common.InvalidTransaction, err, "decoding NYM")
	}
	return &nym, nil
}

// WriteNym creates or updates a DID. Empty verkey, alias and role are left
// out of the operation.
func (c *Client) WriteNym(ctx context.Context, submitter, dest, verkey, alias, role string) (*Reply, error) {
	op := map[string]interface{}{
		"type": wire.NYM,
		"dest": dest,
	}
	if verkey != "" {
		op["verkey"] = verkey
	}
	if alias != "" {
		op["alias"] = alias
	}
	if role != "" {
		op["role"] = role
	}
	return c.Write(ctx, submitter, op)
}

// GetAttrib reads the raw attribute name of dest. It returns nil when the
// attribute is not set.
func (c *Client) GetAttrib(ctx context.Context, submitter, dest, name string) (json.RawMessage, error) {
	reply, err := c.Read(ctx, submitter, map[string]interface{}{
		"type": wire.GET_ATTR,
		"dest": dest,
		"raw":  name,
	})
	if err != nil {
		return nil, err
	}
	return reply.Data(), nil
}

// WriteAttrib sets raw attributes, a JSON object, on dest.
func (c *Client) WriteAttrib(ctx context.Context, submitter, dest string, raw json.RawMessage) (*Reply, error) {
	if !json.Valid(raw) {
		return nil, common.NewPoolErr(common.InvalidTransaction, "raw attribute is not JSON")
	}
	return c.Write(ctx, submitter, map[string]interface{}{
		"type": wire.ATTRIB,
		"dest": dest,
		"raw":  string(raw),
	})
}

// Schema describes the attributes of a credential.
type Schema struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	AttrNames []string `json:"attr_names"`
}

// GetSchema reads a schema written by dest. It returns nil when the schema
// does not exist.
func (c *Client) GetSchema(ctx context.Context, submitter, dest, name, version string) (*Schema, *Reply, error) {
	reply, err := c.Read(ctx, submitter, map[string]interface{}{
		"type": wire.GET_SCHEMA,
		"dest": dest,
		"data": map[string]interface{}{
			"name":    name,
			"version": version,
		},
	})
	if err != nil {
		return nil, nil, err
	}
	if !reply.Found() {
		return nil, reply, nil
	}
	var s Schema
	if err := json.Unmarshal(reply.Data(), &s); err != nil {
		return nil, nil, common.WrapPoolErr(common.InvalidTransaction, err, "decoding SCHEMA")
	}
	return &s, reply, nil
}

// WriteSchema ...
func (c *Client) WriteSchema(ctx context.Context, submitter string, s Schema) (*Reply, error) {
	return c.Write(ctx, submitter, map[string]interface{}{
		"type": wire.SCHEMA,
		"data": s,
	})
}

// GetCredDef reads the credential definition of origin over the schema
// written at seqNo ref.
func (c *Client) GetCredDef(ctx context.Context, submitter, origin string, ref uint64, signatureType, tag string) (json.RawMessage, error) {
	reply, err := c.Read(ctx, submitter, map[string]interface{}{
		"type":           wire.GET_CRED_DEF,
		"origin":         origin,
		"ref":            ref,
		"signature_type": signatureType,
		"tag":            tag,
	})
	if err != nil {
		return nil, err
	}
	return reply.Data(), nil
}

// WriteCredDef ...
func (c *Client) WriteCredDef(ctx context.Context, submitter string, ref uint64, signatureType, tag string, data json.RawMessage) (*Reply, error) {
	if !json.Valid(data) {
		return nil, common.NewPoolErr(common.InvalidTransaction, "credential definition is not JSON")
	}
	return c.Write(ctx, submitter, map[string]interface{}{
		"type":           wire.CRED_DEF,
		"ref":            ref,
		"signature_type": signatureType,
		"tag":            tag,
		"data":           data,
	})
}

// GetTxn reads the transaction seqNo of a ledger. result.txn is null when
// the ledger is shorter.
func (c *Client) GetTxn(ctx context.Context, submitter string, ledgerID int, seqNo uint64) (*Reply, error) {
	return c.Read(ctx, submitter, map[string]interface{}{
		"type":     wire.GET_TXN,
		"ledgerId": ledgerID,
		"data":     seqNo,
	})
}

// GetValidatorInfo asks nodes, or every validator, for their status.
func (c *Client) GetValidatorInfo(ctx context.Context, submitter string, nodes []string, timeout time.Duration) (map[string]json.RawMessage, error) {
	return c.Action(ctx, submitter, map[string]interface{}{
		"type": wire.GET_VALIDATOR_INFO,
	}, nodes, timeout)
}

// PoolRestart schedules a restart of nodes at datetime, or cancels it when
// action is "cancel".
func (c *Client) PoolRestart(ctx context.Context, submitter, action, datetime string, nodes []string, timeout time.Duration) (map[string]json.RawMessage, error) {
	op := map[string]interface{}{
		"type":   wire.POOL_RESTART,
		"action": action,
	}
	if datetime != "" {
		op["datetime"] = datetime
	}
	return c.Action(ctx, submitter, op, nodes, timeout)
}
