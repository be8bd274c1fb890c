package chainhelper

import (
	"fmt"
	"strings"
)

// WalletName picks the display name for a wallet created in a batch of count wallets.
// Without a requested name the upper-cased last 6 characters of the address are used.
// Batches of more than one wallet suffix the name with the index.
func WalletName(requested, address string, count int, index uint32) string {
	name := strings.TrimSpace(requested)
	if name == "" {
		name = address
		if len(name) > 6 {
			name = name[len(name)-6:]
		}
		name = strings.ToUpper(name)
	}
	if count <= 1 {
		return name
	}
	return fmt.Sprintf("%s-%d", name, index)
}
