package main

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mohitkumar/txflow/container"
	"github.com/mohitkumar/txflow/logger"
	"github.com/mohitkumar/txflow/model"
	"github.com/mohitkumar/txflow/sandbox"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func (c *cli) simulateCommand() (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run one flow against the sandbox chain and print every state as JSON",
		RunE:  c.simulate,
	}
	flags := cmd.Flags()
	flags.String("flow", string(model.FLOW_TYPE_BUY), "buy, sell, createListing, makeOffer or transfer")
	flags.String("collection", "0x8a90cab2b38dba80c64b7734e58ee1db38b8992e", "collection address")
	flags.String("token-id", "1", "token id")
	flags.String("order-id", "", "order being filled by buy and sell")
	flags.String("marketplace", "sandbox", "marketplace the order is placed on")
	flags.Int64("max-quantity", 1, "units available, more than one asks for a quantity")
	flags.Int64("quantity", 1, "quantity entered in the form")
	flags.String("price", "", "price entered in the form")
	flags.String("currency", "ETH", "currency entered in the form")
	flags.Duration("expiry", 24*time.Hour, "expiry of a listing or offer from now")
	flags.String("recipient", "", "transfer recipient")
	flags.Bool("off-chain", true, "listings and offers are signed orders")
	flags.Bool("sponsored", false, "gas is sponsored")
	flags.Int("fee-options", 0, "number of fee options quoted")
	flags.Duration("quote-ttl", 2*time.Minute, "validity of each fee quote")
	flags.String("wallet", "0x1111111111111111111111111111111111111111", "wallet address")
	flags.Uint64("chain-id", 1, "wallet chain id")
	flags.Int("retries", 0, "how many times a failed step is retried")
	return cmd, viper.BindPFlags(flags)
}

func (c *cli) intentFromFlags() (model.Intent, error) {
	flowType, err := model.ToFlowType(viper.GetString("flow"))
	if err != nil {
		return model.Intent{}, err
	}
	now := time.Now()
	intent := model.Intent{
		Type:        flowType,
		Collection:  viper.GetString("collection"),
		TokenId:     viper.GetString("token-id"),
		OrderId:     viper.GetString("order-id"),
		Marketplace: viper.GetString("marketplace"),
		MaxQuantity: viper.GetInt64("max-quantity"),
		OffChain:    viper.GetBool("off-chain"),
		Sponsored:   viper.GetBool("sponsored"),
		Approval:    model.Requirement(viper.GetString("sandbox-approval")),
		Form: model.FormValues{
			Quantity:  viper.GetInt64("quantity"),
			Price:     viper.GetString("price"),
			Currency:  viper.GetString("currency"),
			Expiry:    now.Add(viper.GetDuration("expiry")).Truncate(time.Second),
			Recipient: viper.GetString("recipient"),
		},
		Wallet: model.Wallet{
			Address: viper.GetString("wallet"),
			ChainId: viper.GetUint64("chain-id"),
		},
	}
	for i := 1; i <= viper.GetInt("fee-options"); i++ {
		intent.FeeOptions = append(intent.FeeOptions, model.FeeOption{
			Id:        fmt.Sprintf("fee-%d", i),
			Currency:  intent.Form.Currency,
			Amount:    fmt.Sprintf("0.00%d", i),
			ExpiresAt: now.Add(viper.GetDuration("quote-ttl")),
		})
	}
	return intent, nil
}

func (c *cli) simulate(cmd *cobra.Command, args []string) error {
	intent, err := c.intentFromFlags()
	if err != nil {
		return err
	}
	chain := sandbox.NewChain(c.script)
	diContainer := container.NewDiContainer(chain.Collaborators())
	diContainer.Init(c.cfg.Config)
	machine := diContainer.NewFlowMachine()

	var mu sync.Mutex
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	unsubscribe := machine.Subscribe(func(state model.FlowState) {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(state); err != nil {
			logger.Error("error printing flow state", zap.Error(err))
		}
	})
	defer unsubscribe()
	defer machine.Close()

	ctx := cmd.Context()
	state := machine.Open(ctx, intent)
	if len(state.FatalError) > 0 {
		return fmt.Errorf("flow can not start: %s", state.FatalError)
	}
	if len(intent.FeeOptions) > 0 {
		if _, err := machine.SelectFee(intent.FeeOptions[0].Id); err != nil {
			return err
		}
	}
	state = machine.Run(ctx)
	for i := 0; i < viper.GetInt("retries") && state.Status == model.FlowError && state.CurrentStep != nil; i++ {
		state = machine.Execute(ctx, state.CurrentStep.Name)
		if state.Status != model.FlowError {
			state = machine.Run(ctx)
		}
	}

	if record, ok := machine.Record(); ok {
		mu.Lock()
		err := enc.Encode(record)
		mu.Unlock()
		if err != nil {
			return fmt.Errorf("error printing record: %w", err)
		}
	}
	if state.Status != model.FlowSuccess {
		return fmt.Errorf("flow ended in status %s", state.Status)
	}
	return nil
}
