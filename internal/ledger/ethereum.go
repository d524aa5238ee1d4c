package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/charon-estate/charond/internal/model"
)

// userInfoABI covers the single view function the pipeline calls.
const userInfoABI = `[{
	"inputs": [{"internalType": "address", "name": "userAddress", "type": "address"}],
	"name": "getUserInfo",
	"outputs": [
		{"internalType": "uint8", "name": "status", "type": "uint8"},
		{"internalType": "uint256", "name": "lastSeen", "type": "uint256"},
		{"internalType": "uint256", "name": "threshold", "type": "uint256"},
		{"internalType": "address[3]", "name": "guardians", "type": "address[3]"},
		{"internalType": "uint256", "name": "requiredConfirmations", "type": "uint256"},
		{"internalType": "uint256", "name": "confirmationCount", "type": "uint256"}
	],
	"stateMutability": "view",
	"type": "function"
}]`

// statusChangedTopic is the topic0 of StatusChanged(address,uint8,uint8).
var statusChangedTopic = crypto.Keccak256Hash([]byte("StatusChanged(address,uint8,uint8)"))

// EthClient is the go-ethereum backed Client.
type EthClient struct {
	ec       *ethclient.Client
	contract common.Address
	abi      abi.ABI
}

func Dial(ctx context.Context, rpcURL, contractAddress string) (*EthClient, error) {
	if !common.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", contractAddress)
	}
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(userInfoABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	return &EthClient{ec: ec, contract: common.HexToAddress(contractAddress), abi: parsed}, nil
}

func (c *EthClient) Close() {
	c.ec.Close()
}

func (c *EthClient) Height(ctx context.Context) (uint64, error) {
	return c.ec.BlockNumber(ctx)
}

func (c *EthClient) StatusChanges(ctx context.Context, fromBlock, toBlock uint64) ([]model.StatusChangeEvent, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{statusChangedTopic}},
	}
	logs, err := c.ec.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("filter StatusChanged logs: %w", err)
	}

	events := make([]model.StatusChangeEvent, 0, len(logs))
	for _, lg := range logs {
		// topic1 carries the indexed subject address; the data section
		// carries the two uint8 statuses as 32-byte words.
		if len(lg.Topics) < 2 || len(lg.Data) < 64 {
			continue
		}
		events = append(events, model.StatusChangeEvent{
			Subject:     common.BytesToAddress(lg.Topics[1].Bytes()).Hex(),
			OldStatus:   model.SubjectStatus(lg.Data[31]),
			NewStatus:   model.SubjectStatus(lg.Data[63]),
			BlockHeight: lg.BlockNumber,
		})
	}
	return events, nil
}

func (c *EthClient) UserInfo(ctx context.Context, subject string) (model.UserInfo, error) {
	var info model.UserInfo
	if !common.IsHexAddress(subject) {
		return info, fmt.Errorf("invalid subject address %q", subject)
	}

	data, err := c.abi.Pack("getUserInfo", common.HexToAddress(subject))
	if err != nil {
		return info, fmt.Errorf("pack getUserInfo: %w", err)
	}
	raw, err := c.ec.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return info, fmt.Errorf("call getUserInfo: %w", err)
	}

	out, err := c.abi.Unpack("getUserInfo", raw)
	if err != nil {
		return info, fmt.Errorf("unpack getUserInfo: %w", err)
	}
	if len(out) < 4 {
		return info, fmt.Errorf("short getUserInfo result: %d values", len(out))
	}

	status, ok := out[0].(uint8)
	if !ok {
		return info, fmt.Errorf("unexpected status type %T", out[0])
	}
	lastSeen, ok := out[1].(*big.Int)
	if !ok {
		return info, fmt.Errorf("unexpected lastSeen type %T", out[1])
	}
	guardians, ok := out[3].([3]common.Address)
	if !ok {
		return info, fmt.Errorf("unexpected guardians type %T", out[3])
	}

	info.Status = model.SubjectStatus(status)
	info.LastSeen = lastSeen.Int64()
	for i, g := range guardians {
		if g != (common.Address{}) {
			info.Guardians[i] = g.Hex()
		}
	}
	return info, nil
}
