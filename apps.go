// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package msalbrowser is a Go implementation of browser-style silent token
acquisition. It satisfies token requests entirely from locally persisted
credential state, without user interaction and without contacting the
network.

The public surface lives in apps/silent. Hosts that need persistence across
processes implement the accessor interfaces in apps/cache.
*/
package msalbrowser
