package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/midnightos/treasury/models"
	"github.com/midnightos/treasury/tracking"
	logger "github.com/ndau/go-logger"
	"github.com/ndau/go-ndau"
)

// NodeProvider talks to the REST API of a wallet node.
type NodeProvider struct {
	conn    *ndau.Ndau
	address string
	network string

	// Optional: logging
	Log logger.Logger
}

type addressResp struct {
	Address string `json:"address"`
}

type balanceResp struct {
	Balance json.RawMessage `json:"balance"`
}

type sendReq struct {
	DestinationAddress string `json:"destinationAddress"`
	Amount             string `json:"amount"`
}

type electionReq struct {
	ProposalID string `json:"proposalId"`
}

type receiptResp struct {
	TxIdentifier  string      `json:"txIdentifier"`
	TransactionID string      `json:"transactionId"`
	BlockHeight   json.Number `json:"blockHeight"`
}

type statusResp struct {
	Status string `json:"status"`
}

// NewNodeProvider connects to cfg.LedgerNodeAPI.
func NewNodeProvider(cfg *models.Config, loggers ...logger.Logger) (*NodeProvider, error) {
	// Attach an optional logger
	var log logger.Logger
	if len(loggers) > 0 && loggers[0] != nil {
		log = loggers[0]
	} else {
		log = &logger.NoopLogger{}
	}

	conn, err := ndau.New(http.DefaultClient, &ndau.NdauConfig{
		Network: cfg.LedgerNetwork,
		NodeAPI: cfg.LedgerNodeAPI,
	}, log)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to instantiate ledger client to the network %s", cfg.LedgerNetwork)
	}

	return &NodeProvider{
		conn:    conn,
		address: cfg.TreasuryAddress,
		network: cfg.LedgerNetwork,
		Log:     log,
	}, nil
}

// Address returns the configured treasury address, asking the node on every
// call when none was configured.
func (n *NodeProvider) Address(ctx context.Context) (string, error) {
	if n.address != "" {
		return n.address, nil
	}
	res, err := n.conn.GetDataWithContext(ctx, "/wallet/address", nil)
	if err != nil {
		return "", err
	}
	var r addressResp
	if err := json.Unmarshal(res, &r); err != nil {
		return "", errors.Wrap(err, "Failed to unmarshall address response")
	}
	if r.Address == "" {
		return "", errors.New("wallet node returned an empty address")
	}
	return r.Address, nil
}

// Balance returns the spendable treasury balance.
func (n *NodeProvider) Balance(ctx context.Context) (int64, error) {
	res, err := n.conn.GetDataWithContext(ctx, "/wallet/balance", nil)
	if err != nil {
		return 0, err
	}
	var r balanceResp
	if err := json.Unmarshal(res, &r); err != nil {
		return 0, errors.Wrap(err, "Failed to unmarshall balance response")
	}
	return models.ParseAmount(r.Balance)
}

// Transfer sends amount to the recipient address.
func (n *NodeProvider) Transfer(ctx context.Context, to string, amount int64) (models.Receipt, error) {
	trackingNumber := tracking.From(ctx)
	n.Log.Infof("%s | Sending %d to %s on %s", trackingNumber, amount, to, n.network)

	return n.post(ctx, "/wallet/send", sendReq{
		DestinationAddress: to,
		Amount:             models.FormatAmount(amount),
	})
}

// OpenVoting registers the election for proposalID with the DAO contract.
func (n *NodeProvider) OpenVoting(ctx context.Context, proposalID string) (models.Receipt, error) {
	trackingNumber := tracking.From(ctx)
	n.Log.Infof("%s | Opening election for proposal %s on %s", trackingNumber, proposalID, n.network)

	return n.post(ctx, "/dao/open-election", electionReq{ProposalID: proposalID})
}

// TransactionStatus asks the node whether txID has been confirmed.
func (n *NodeProvider) TransactionStatus(ctx context.Context, txID string) (models.ChainTxStatus, error) {
	res, err := n.conn.GetDataWithContext(ctx, "/wallet/transaction/"+url.PathEscape(txID), nil)
	if err != nil {
		return models.ChainTxUnknown, err
	}
	var r statusResp
	if err := json.Unmarshal(res, &r); err != nil {
		return models.ChainTxUnknown, errors.Wrap(err, "Failed to unmarshall transaction status response")
	}
	return chainStatus(r.Status), nil
}

func (n *NodeProvider) post(ctx context.Context, api string, body interface{}) (models.Receipt, error) {
	var params interface{}
	input, err := json.Marshal(body)
	if err != nil {
		return models.Receipt{}, errors.Wrap(err, "Failed to marshall request")
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return models.Receipt{}, errors.Wrap(err, "Failed to build request params")
	}

	res, err := n.conn.PostDataWithContext(ctx, api, params)
	if err != nil {
		return models.Receipt{}, err
	}
	return parseReceipt(res)
}

func parseReceipt(res []byte) (models.Receipt, error) {
	var r receiptResp
	if err := json.Unmarshal(res, &r); err != nil {
		return models.Receipt{}, errors.Wrap(err, "Failed to unmarshall receipt")
	}
	txID := r.TxIdentifier
	if txID == "" {
		txID = r.TransactionID
	}
	if txID == "" {
		return models.Receipt{}, errors.New("wallet node returned no transaction identifier")
	}
	var height uint64
	if r.BlockHeight != "" {
		h, err := r.BlockHeight.Int64()
		if err != nil || h < 0 {
			return models.Receipt{}, errors.Errorf("invalid block height '%s'", r.BlockHeight)
		}
		height = uint64(h)
	}
	return models.Receipt{TxID: txID, BlockHeight: height}, nil
}

func chainStatus(s string) models.ChainTxStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed", "confirmed", "finalized":
		return models.ChainTxConfirmed
	case "failed", "rejected", "dropped":
		return models.ChainTxRejected
	case "initiated", "sent", "pending", "submitted":
		return models.ChainTxPending
	default:
		return models.ChainTxUnknown
	}
}
