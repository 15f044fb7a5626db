//  Copyright 2024 Google LLC
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.


//go:build !windows

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/feifanzhou/logship"
	"go.uber.org/zap"
)

// handleControlSignals pauses the shipping on SIGUSR1 and resumes it on
// SIGUSR2 until ctx is canceled.
func handleControlSignals(ctx context.Context, shipper *logship.Shipper, logger *zap.Logger) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(signals)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			switch sig {
			case syscall.SIGUSR1:
				shipper.Pause()
				logger.Info("Shipping paused")
			case syscall.SIGUSR2:
				shipper.Resume()
				logger.Info("Shipping resumed")
			}
		}
	}
}
