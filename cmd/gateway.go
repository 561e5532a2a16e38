// This file is part of lab-gateway
//
// Copyright (C) 2021  LabBridge
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>

package cmd

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	amqpbroker "github.com/labbridge/lab-gateway/pkg/broker/amqp"
	"github.com/labbridge/lab-gateway/pkg/hub"
	"github.com/labbridge/lab-gateway/pkg/monitor"
	"github.com/labbridge/lab-gateway/pkg/server"
)

// defaultExchanges are the fanout exchanges the backend publishes domain
// events on. Deployment constants, overridable via broker_exchanges.
var defaultExchanges = []string{
	"run-response",
	"instrument-status",
	"media-burner",
	"notification",
	"push",
	"usb",
}

// gatewayCmd represents the gateway command
var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the gateway daemon.",
	Run: func(cmd *cobra.Command, args []string) {
		b, err := amqpbroker.NewBroker(
			amqpbroker.WithURL(viper.GetString("broker_url")),
			amqpbroker.WithCredentials(viper.GetString("broker_username"), viper.GetString("broker_password")),
			amqpbroker.WithHeartbeat(time.Duration(viper.GetInt("broker_heartbeat"))*time.Second),
			amqpbroker.WithDurableExchanges(viper.GetBool("broker_durable_exchanges")),
			amqpbroker.WithLogger(logger),
		)
		if err != nil {
			logger.Fatal("failed to create broker", zap.Error(err))
			os.Exit(1)
		}

		h := hub.New(logger)

		m, err := monitor.New(
			monitor.WithUpstreamURL(viper.GetString("upstream_url")),
			monitor.WithNotifier(h),
			monitor.WithLogger(logger),
		)
		if err != nil {
			logger.Fatal("failed to create upstream monitor", zap.Error(err))
			os.Exit(1)
		}

		logger.Debug("Listening address: " + addr)
		s, err := server.New(
			server.WithAddr(addr),
			server.WithBroker(b),
			server.WithExchanges(viper.GetStringSlice("broker_exchanges")...),
			server.WithHub(h),
			server.WithMonitor(m),
			server.WithLogger(logger),
		)
		if err != nil {
			logger.Fatal("failed to create new server", zap.Error(err))
			os.Exit(1)
		}
		if err := s.Run(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server run failed", zap.Error(err))
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}
