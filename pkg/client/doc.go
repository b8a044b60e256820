// Package client is the Go SDK for the compliance ledger HTTP API.
//
//	c, err := client.New("http://localhost:8080")
//	if err != nil { ... }
//	res, err := c.Append(ctx, map[string]any{"projId": "P123", "compReport": "ok"})
//	v, err := c.Verify(ctx)
//	if !v.Valid { ... }
package client
