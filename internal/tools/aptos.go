package tools

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"aptos-agent/internal/aptos"
	xerrors "aptos-agent/internal/errors"
)

const bytecodePreview = 20

// AptosTools returns the explorer lookups backed by the network registry. A
// "network" parameter is offered when more than one network is configured.
func AptosTools(networks *aptos.Registry) []*Tool {
	a := &aptosTools{networks: networks}
	return []*Tool{
		{
			Name:        "get_aptos_balance",
			Description: "Get the balance of an Aptos (Petra) wallet address on the Aptos chain.",
			Parameters:  a.schema(map[string]any{"address": property("string", "Aptos account address")}, "address"),
			Execute:     a.balance,
		},
		{
			Name:        "get_aptos_transaction_by_hash",
			Description: "Look up an Aptos transaction by its hash and return a simple summary in easy words.",
			Parameters:  a.schema(map[string]any{"txn_hash": property("string", "transaction hash")}, "txn_hash"),
			Execute:     a.transactionByHash,
		},
		{
			Name:        "estimate_aptos_gas_price",
			Description: "Get an estimate of the gas unit price required for a transaction on Aptos, explained in easy words.",
			Parameters:  a.schema(nil),
			Execute:     a.gasPrice,
		},
		{
			Name:        "get_aptos_account_transaction_summaries",
			Description: "Get summaries of on-chain committed transactions for an Aptos account. Each summary includes sender, hash, version, and replay protector. Optionally, start from a specific version.",
			Parameters: a.schema(map[string]any{
				"address":       property("string", "Aptos account address"),
				"start_version": property("integer", "ledger version to start from"),
			}, "address"),
			Execute: a.transactionSummaries,
		},
		{
			Name:        "get_aptos_account_modules",
			Description: "Retrieves all account modules' bytecode for a given Aptos account. Optionally specify a ledger version.",
			Parameters: a.schema(map[string]any{
				"address":        property("string", "Aptos account address"),
				"ledger_version": property("integer", "ledger version to read at"),
			}, "address"),
			Execute: a.modules,
		},
		{
			Name:        "get_aptos_account_module_names",
			Description: "Retrieves all module names for a given Aptos account. Optionally specify a ledger version.",
			Parameters: a.schema(map[string]any{
				"address":        property("string", "Aptos account address"),
				"ledger_version": property("integer", "ledger version to read at"),
			}, "address"),
			Execute: a.moduleNames,
		},
	}
}

type aptosTools struct {
	networks *aptos.Registry
}

func (a *aptosTools) schema(properties map[string]any, required ...string) map[string]any {
	if names := a.networks.Networks(); len(names) > 1 {
		if properties == nil {
			properties = map[string]any{}
		}
		network := property("string", "Aptos network, defaults to "+a.networks.DefaultNetwork())
		network["enum"] = names
		properties["network"] = network
	}
	return objectSchema(properties, required...)
}

func (a *aptosTools) client(args Args) (*aptos.Client, error) {
	name, err := args.OptionalString("network")
	if err != nil {
		return nil, err
	}
	client, ok := a.networks.Client(name)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("unknown network %s, try one of [%s]", name, strings.Join(a.networks.Networks(), ", ")))
	}
	return client, nil
}

func (a *aptosTools) balance(ctx context.Context, args Args) (string, error) {
	address, err := args.String("address")
	if err != nil {
		return "", err
	}
	client, err := a.client(args)
	if err != nil {
		return "", err
	}
	balance, err := client.AccountBalance(ctx, address)
	if err != nil {
		if status, ok := aptos.StatusCode(err); ok {
			return fmt.Sprintf("Failed to fetch balance. Status code: %d", status), nil
		}
		return fmt.Sprintf("Error fetching balance: %v", err), nil
	}
	return balance.APT().String(), nil
}

func (a *aptosTools) transactionByHash(ctx context.Context, args Args) (string, error) {
	hash, err := args.String("txn_hash")
	if err != nil {
		return "", err
	}
	client, err := a.client(args)
	if err != nil {
		return "", err
	}
	tx, err := client.TransactionByHash(ctx, hash)
	if err != nil {
		status, ok := aptos.StatusCode(err)
		switch {
		case ok && status == http.StatusNotFound:
			return fmt.Sprintf("No transaction found for hash %s.", hash), nil
		case ok:
			return fmt.Sprintf("Failed to fetch transaction. Status code: %d", status), nil
		default:
			return fmt.Sprintf("Error fetching transaction: %v", err), nil
		}
	}

	success := "No"
	if tx.Success {
		success = "Yes"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Transaction %s:\n", hash)
	fmt.Fprintf(&b, "- Sent by: %s\n", tx.Sender.Text("Unknown"))
	fmt.Fprintf(&b, "- Success: %s\n", success)
	fmt.Fprintf(&b, "- Gas used: %s\n", tx.GasUsed.Text("?"))
	fmt.Fprintf(&b, "- Version: %s\n", tx.Version.Text("?"))
	fmt.Fprintf(&b, "- Timestamp: %s\n", tx.Timestamp.Text("?"))
	return b.String(), nil
}

func (a *aptosTools) gasPrice(ctx context.Context, args Args) (string, error) {
	client, err := a.client(args)
	if err != nil {
		return "", err
	}
	estimate, err := client.EstimateGasPrice(ctx)
	if err != nil {
		if status, ok := aptos.StatusCode(err); ok {
			return fmt.Sprintf("Failed to fetch gas price estimate. Status code: %d", status), nil
		}
		return fmt.Sprintf("Error fetching gas price estimate: %v", err), nil
	}
	return fmt.Sprintf("Estimated gas price (per unit):\n"+
		"- Minimum (slow): %s\n"+
		"- Normal (average): %s\n"+
		"- High (fast): %s\n"+
		"This is the amount you pay for each unit of gas when sending a transaction. Higher price = faster confirmation.",
		estimate.Deprioritized.Text("?"),
		estimate.Normal.Text("?"),
		estimate.Prioritized.Text("?"),
	), nil
}

func (a *aptosTools) transactionSummaries(ctx context.Context, args Args) (string, error) {
	address, err := args.String("address")
	if err != nil {
		return "", err
	}
	startVersion, err := args.OptionalUint64("start_version")
	if err != nil {
		return "", err
	}
	client, err := a.client(args)
	if err != nil {
		return "", err
	}
	summaries, err := client.AccountTransactionSummaries(ctx, address, startVersion)
	if err != nil {
		if status, ok := aptos.StatusCode(err); ok {
			return fmt.Sprintf("Failed to fetch transaction summaries. Status code: %d", status), nil
		}
		return fmt.Sprintf("Error fetching transaction summaries: %v", err), nil
	}
	if len(summaries) == 0 {
		return "No transaction summaries found for this account.", nil
	}
	items := make([]string, 0, len(summaries))
	for _, s := range summaries {
		items = append(items, fmt.Sprintf("- Sender: %s\n  Hash: %s\n  Version: %s\n  Replay protector: %s",
			s.Sender.Text("?"), s.Hash.Text("?"), s.Version.Text("?"), s.ReplayProtector.Text("?")))
	}
	return strings.Join(items, "\n\n"), nil
}

func (a *aptosTools) modules(ctx context.Context, args Args) (string, error) {
	modules, text, err := a.fetchModules(ctx, args)
	if err != nil || text != "" {
		return text, err
	}
	items := make([]string, 0, len(modules))
	for _, m := range modules {
		bytecode := m.Bytecode
		if bytecode == "" {
			bytecode = "?"
		}
		if len(bytecode) > bytecodePreview {
			bytecode = bytecode[:bytecodePreview]
		}
		items = append(items, fmt.Sprintf("- Module: %s\n  Bytecode: %s... (truncated)", m.Name(), bytecode))
	}
	return strings.Join(items, "\n\n"), nil
}

func (a *aptosTools) moduleNames(ctx context.Context, args Args) (string, error) {
	modules, text, err := a.fetchModules(ctx, args)
	if err != nil || text != "" {
		return text, err
	}
	names := make([]string, 0, len(modules))
	for _, m := range modules {
		names = append(names, m.Name())
	}
	return "Module names: " + strings.Join(names, ", "), nil
}

// fetchModules returns either the modules or the final text for the empty and
// failure cases.
func (a *aptosTools) fetchModules(ctx context.Context, args Args) ([]aptos.Module, string, error) {
	address, err := args.String("address")
	if err != nil {
		return nil, "", err
	}
	ledgerVersion, err := args.OptionalUint64("ledger_version")
	if err != nil {
		return nil, "", err
	}
	client, err := a.client(args)
	if err != nil {
		return nil, "", err
	}
	modules, err := client.AccountModules(ctx, address, ledgerVersion)
	if err != nil {
		status, ok := aptos.StatusCode(err)
		switch {
		case ok && status == http.StatusGone:
			return nil, "Requested ledger version has been pruned.", nil
		case ok:
			return nil, fmt.Sprintf("Failed to fetch modules. Status code: %d", status), nil
		default:
			return nil, fmt.Sprintf("Error fetching modules: %v", err), nil
		}
	}
	if len(modules) == 0 {
		return nil, "No modules found for this account.", nil
	}
	return modules, "", nil
}
