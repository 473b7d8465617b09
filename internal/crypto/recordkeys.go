package icrypto

import "github.com/jmcleod/ironcert/internal/util"

const recordKeyInfo = "ironcert:record-key:v1"

// DeriveRecordKey derives the key that seals one archive record from the
// passphrase-derived master key. The record's AAD is used as salt, so every
// slot gets its own key.
func DeriveRecordKey(master []byte, aad []byte) ([]byte, error) {
	return util.DeriveSubkey(master, aad, recordKeyInfo)
}
