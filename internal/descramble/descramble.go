/*
NAME
  descramble.go - ECM-driven AES-128-CTR descrambling of MMTP payloads.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package descramble derives the odd/even content keys from an ECM via a
// CAS module and decrypts MMTP payloads in place with them.
package descramble

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"

	"github.com/siketyan/chibitv/internal/cas"
	"github.com/siketyan/chibitv/internal/mmtp"
)

// ErrNoKey is returned by Descramble when a scrambled payload arrives
// before any ECM has been accepted.
var ErrNoKey = errors.New("descramble: no decryption key available yet")

// decryptionKey holds one ECM's derived odd/even content-key pair.
type decryptionKey struct {
	odd  [16]byte
	even [16]byte
}

// ecmCacheKey is the fixed-width ECM payload used to key the key cache, so
// a repeated ECM (common across a key's validity window) skips the round
// trip to the card.
type ecmCacheKey [148]byte

// Descrambler derives content keys from ECMs via a CAS module and
// decrypts MMTP payloads with them. It is safe for concurrent use; the
// demultiplexer may be pushing ECMs on one goroutine while decrypting
// payloads on another.
type Descrambler struct {
	mu        sync.Mutex
	cas       *cas.Module
	masterKey [32]byte
	key       *decryptionKey
	keyCache  map[ecmCacheKey]decryptionKey
}

// Init opens a Descrambler against an already-connected CAS module,
// querying its identity to confirm it is responsive.
func Init(module *cas.Module, masterKey [32]byte) (*Descrambler, error) {
	if _, err := module.InitialSettingCondition(); err != nil {
		return nil, errors.Wrap(err, "descramble: initial setting condition")
	}
	return &Descrambler{
		cas:       module,
		masterKey: masterKey,
		keyCache:  make(map[ecmCacheKey]decryptionKey),
	}, nil
}

// PushEcm presents one ECM to the decoder, deriving (or recalling from
// cache) the odd/even content-key pair it grants. At least one ECM must
// be pushed before Descramble can decrypt a scrambled payload.
func (d *Descrambler) PushEcm(ecm [148]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cacheKey := ecmCacheKey(ecm)
	if key, ok := d.keyCache[cacheKey]; ok {
		d.key = &key
		return nil
	}

	a0Init := make([]byte, 8)
	if _, err := rand.Read(a0Init); err != nil {
		return errors.Wrap(err, "descramble: generate a0_init")
	}

	settingData := append([]byte{0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x8A, 0xF7}, a0Init...)
	settingResp, err := d.cas.ScramblingKeyProtectionSetting(settingData)
	if err != nil {
		return errors.Wrap(err, "descramble: scrambling key protection setting")
	}
	if len(settingResp.SettingResponseData) < 40 {
		return errors.New("descramble: setting_response_data too short")
	}
	a0Response := settingResp.SettingResponseData[:8]
	a0Hash := settingResp.SettingResponseData[8:40]

	kclSum := sha256.Sum256(bytes.Join([][]byte{d.masterKey[:], a0Init, a0Response}, nil))
	kcl := kclSum[:]
	hashCheck := sha256.Sum256(bytes.Join([][]byte{kcl, a0Init}, nil))
	if !bytes.Equal(hashCheck[:], a0Hash) {
		return errors.New("descramble: a0_hash mismatch")
	}

	ecmResp, err := d.cas.EcmReception(ecm[:])
	if err != nil {
		return errors.Wrap(err, "descramble: ecm reception")
	}

	ecmInit := ecm[0x04:0x1B]
	hashSum := sha256.Sum256(bytes.Join([][]byte{kcl, ecmInit}, nil))
	hash := hashSum[:]
	for i := range hash {
		hash[i] ^= ecmResp.Ks[i]
	}

	var key decryptionKey
	copy(key.odd[:], hash[:0x10])
	copy(key.even[:], hash[0x10:0x20])

	d.key = &key
	d.keyCache[cacheKey] = key
	return nil
}

// Clear discards the current content key and cache, forcing the next
// scrambled payload to wait for a fresh ECM.
func (d *Descrambler) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.key = nil
	d.keyCache = make(map[ecmCacheKey]decryptionKey)
}

// Descramble decrypts an MMTP packet's payload in place, keyed by the
// packet's scrambling extension header. A packet carrying no scrambling
// extension header, or one reporting Unscrambled, is left untouched.
func (d *Descrambler) Descramble(packet *mmtp.Packet, data []byte) error {
	flag, err := encryptionFlag(packet)
	if err != nil {
		return err
	}

	var key [16]byte
	switch flag {
	case cas.Even, cas.Odd:
		d.mu.Lock()
		k := d.key
		d.mu.Unlock()
		if k == nil {
			return ErrNoKey
		}
		if flag == cas.Even {
			key = k.even
		} else {
			key = k.odd
		}
	default:
		return nil
	}

	iv := make([]byte, 16)
	binary.BigEndian.PutUint16(iv[0:2], packet.PacketID)
	binary.BigEndian.PutUint32(iv[2:6], packet.PacketSequenceNumber)

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return errors.Wrap(err, "descramble: new aes cipher")
	}
	cipher.NewCTR(block, iv).XORKeyStream(data, data)
	return nil
}

// encryptionFlag extracts the ODD/EVEN scrambling state from an MMTP
// packet's extension header, per the MMT-scrambling extension layout
// (extension_type 0x0001, one byte of payload carrying MAC/SICV flags and
// the encryption flag in bits 3-4).
func encryptionFlag(packet *mmtp.Packet) (cas.EncryptionFlag, error) {
	header := packet.ExtensionHeader
	if header == nil {
		return cas.Unscrambled, nil
	}
	if header.HeaderType != 0x0000 {
		return cas.Unscrambled, errors.Errorf("descramble: unexpected extension header_type 0x%04x", header.HeaderType)
	}
	if len(header.Data) < 4 {
		return cas.Unscrambled, nil
	}

	extensionType := binary.BigEndian.Uint16(header.Data)
	if extensionType&0x7FFF != 0x0001 {
		return cas.Unscrambled, nil
	}

	extensionLength := binary.BigEndian.Uint16(header.Data[2:])
	if extensionLength != 1 || len(header.Data) < 5 {
		return cas.Unscrambled, errors.New("descramble: malformed mmt-scrambling extension")
	}

	payload := header.Data[4]
	return cas.EncryptionFlag((payload & 0b0001_1000) >> 3), nil
}
