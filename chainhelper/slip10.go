package chainhelper

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
)

const hardenedOffset = 0x80000000

// slip10Node is an ed25519 SLIP-0010 extended key.
type slip10Node struct {
	key       []byte
	chainCode []byte
}

func slip10Master(seed []byte) slip10Node {
	mac := hmac.New(sha512.New, []byte("ed25519 seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)
	return slip10Node{key: sum[:32], chainCode: sum[32:]}
}

// child derives a hardened child. ed25519 has no public derivation so every index is hardened.
func (n slip10Node) child(index uint32) slip10Node {
	data := make([]byte, 0, 1+32+4)
	data = append(data, 0)
	data = append(data, n.key...)
	data = binary.BigEndian.AppendUint32(data, index|hardenedOffset)

	mac := hmac.New(sha512.New, n.chainCode)
	mac.Write(data)
	sum := mac.Sum(nil)
	return slip10Node{key: sum[:32], chainCode: sum[32:]}
}

// deriveEd25519 returns the 32-byte ed25519 seed at path. Indices are hardened implicitly.
func deriveEd25519(seed []byte, path []uint32) []byte {
	node := slip10Master(seed)
	for _, idx := range path {
		node = node.child(idx)
	}
	return node.key
}
