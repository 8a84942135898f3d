package fee

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	ffee "github.com/avocado-safe/avocado-core/fee"
	"github.com/avocado-safe/avocado-core/pkg/commands/flags"
	"github.com/avocado-safe/avocado-core/safe"
)

func newEstimateCmd(cfg Config) *cobra.Command {
	var (
		to    string
		value string
		data  string
	)

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the fee of a call on one or more chains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			safeAddr, err := flags.SafeAddress(cmd)
			if err != nil {
				return err
			}
			action, err := parseAction(to, value, data)
			if err != nil {
				return err
			}

			svc, err := cfg.Deps.Load(cmd, cfg.Logger)
			if err != nil {
				return fmt.Errorf("failed to load services: %w", err)
			}
			defer svc.Close()

			s, err := svc.Safe(cmd.Context(), safeAddr)
			if err != nil {
				return err
			}

			chainIDs := flags.ChainIDs(cmd)
			reqs := make([]ffee.Request, 0, len(chainIDs))
			for _, id := range chainIDs {
				reqs = append(reqs, ffee.Request{ChainID: id, Actions: []safe.Action{action}})
			}

			res, verdict, err := svc.EstimateFees(cmd.Context(), s, reqs)
			if err != nil {
				return err
			}

			writeEstimates(cmd, svc, res.Data)

			if res.Err != nil {
				cmd.PrintErrf("Some estimates failed: %v\n", res.Err)
			}
			if verdict.Insufficient {
				return fmt.Errorf("%s: balance %s USDC, total %s USDC",
					verdict.Message, verdict.Balance.StringFixed(2), verdict.Total.StringFixed(2))
			}
			if verdict.NearThreshold {
				cmd.PrintErrln(verdict.Message)
			}

			return nil
		},
	}

	flags.Safe(cmd)
	flags.Chains(cmd)
	cmd.Flags().StringVar(&to, "to", "", "Call target (required)")
	cmd.Flags().StringVar(&value, "value", "0", "Value in wei")
	cmd.Flags().StringVar(&data, "data", "0x", "Hex encoded calldata")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func parseAction(to, value, data string) (safe.Action, error) {
	target, err := flags.Address("target", to)
	if err != nil {
		return safe.Action{}, err
	}

	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return safe.Action{}, fmt.Errorf("invalid value %q", value)
	}

	calldata, err := hexutil.Decode(data)
	if err != nil {
		return safe.Action{}, fmt.Errorf("invalid data %q: %w", data, err)
	}

	a := safe.Action{Target: target, Data: calldata, Value: v, Operation: safe.OperationCall}

	return a, a.Validate()
}

func writeEstimates(cmd *cobra.Command, svc Services, estimates []ffee.Estimate) {
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Chain", "Max (USDC)", "Min (USDC)", "Discount", "Charged (USDC)"})
	for _, e := range estimates {
		discount := "-"
		if e.Discount != nil {
			discount = fmt.Sprintf("%s (%s%%)", e.Discount.Name, e.Discount.Rate.Shift(2).String())
		}

		table.Append([]string{
			fmt.Sprintf("%s (%d)", svc.ChainName(e.ChainID), e.ChainID),
			e.Max.StringFixed(4),
			e.Min.StringFixed(4),
			discount,
			e.AmountAfterDiscount.StringFixed(4),
		})
	}
	table.Render()
}
