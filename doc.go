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


// Package logship implements a leveled logger that ships its records to a
// remote HTTP endpoint, surviving process restarts and connectivity loss.
//
// # Initialization & Registration
//
// An application sets up the logger and registers the shipping backend
// before logging:
//
//	ctx := context.Background()
//
//	shipper, err := logship.NewShipper(ctx, logship.ShipperOptions{
//		URI:      "https://logs.example.com/ingest",
//		APIKey:   apiKey,
//		StateDir: "/var/lib/app",
//	})
//	if err != nil {
//		...
//	}
//
//	logship.SetLevel(logship.InfoLevel)
//	logship.SetDefaultDimensions(logship.Properties{"app": "example"})
//	logship.RegisterBackend(ctx, shipper)
//	logship.RegisterBackend(ctx, logship.NewStderrBackend(nil))
//	logship.Info("Logger initialized.")
//
// # Levels
//
// Eight priorities are supported, from the most urgent [EmergencyLevel] to
// [VerboseLevel]. Entries less urgent than the level set with [SetLevel] are
// dropped before reaching any backend, unless emitted with [ForceEmit].
//
// # Durable Queue
//
// The [Shipper] persists every record in a capacity bounded [Queue] before
// attempting to send it. The whole queue is written to the [Store] on each
// mutation, so records queued by a crashed process are sent by the next one.
// When the capacity is reached the oldest records are evicted and a warning
// record describing the eviction is queued.
//
// # Delivery
//
// A single [Drainer] goroutine sends the records one at a time, oldest
// first. A record leaves the queue only once the endpoint acknowledged it,
// so delivery is at-least-once and ordered. Sending stops while offline (see
// [Connectivity]) or paused, and resumes on the next trigger: a new record,
// a [Shipper.Resume], an application resume or the endpoint coming back
// online.
//
// # Shutting down
//
// [Shutdown] unregisters the backends, writes the entries they still hold
// and calls each backend's Flush, which for the [Shipper] attempts every
// queued record without waiting for the send interval.
package logship
