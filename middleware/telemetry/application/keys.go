package application

import (
	"encoding/hex"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/crypto/scrypt"
	"k8s.io/utils/clock"

	"telemetry-agent/middleware/telemetry/domain"
)

// parâmetros do hash usado pelo hub para indexar as chaves.
const (
	scryptN      = 256
	scryptR      = 4
	scryptP      = 1
	scryptKeyLen = 32

	hashCacheSize = 1024
)

// keySet é imutável depois de publicado.
type keySet struct {
	salt    string
	records map[string]domain.KeyRecord
}

// KeyRegistry mapeia hash(salt, api key) -> KeyRecord.
//
// Replace publica um keySet novo com uma única troca de ponteiro; leitores
// nunca veem uma tabela parcialmente substituída. Não há merge incremental:
// chaves revogadas somem no próximo refresh.
type KeyRegistry struct {
	current atomic.Pointer[keySet]
	hashes  *lru.Cache
	clock   clock.PassiveClock
}

func NewKeyRegistry(clk clock.PassiveClock) *KeyRegistry {
	hashes, _ := lru.New(hashCacheSize) // só falha com tamanho <= 0
	return &KeyRegistry{hashes: hashes, clock: clk}
}

// Replace troca o registro inteiro. Expiração relativa é resolvida agora.
func (r *KeyRegistry) Replace(resp domain.KeysResponse) {
	r.current.Store(&keySet{
		salt:    resp.Salt,
		records: resp.Records(r.clock.Now()),
	})
}

// Lookup devolve o registro da chave apresentada. Chaves ausentes ou expiradas
// (avaliado contra o relógio neste momento) não casam.
func (r *KeyRegistry) Lookup(apiKey string) (domain.KeyRecord, bool) {
	set := r.current.Load()
	if set == nil || apiKey == "" {
		return domain.KeyRecord{}, false
	}
	hash, err := r.hash(set.salt, apiKey)
	if err != nil {
		return domain.KeyRecord{}, false
	}
	rec, ok := set.records[hash]
	if !ok || rec.IsExpired(r.clock.Now()) {
		return domain.KeyRecord{}, false
	}
	return rec, true
}

func (r *KeyRegistry) Len() int {
	set := r.current.Load()
	if set == nil {
		return 0
	}
	return len(set.records)
}

func (r *KeyRegistry) hash(salt, apiKey string) (string, error) {
	memoKey := salt + "\x00" + apiKey
	if v, ok := r.hashes.Get(memoKey); ok {
		return v.(string), nil
	}
	h, err := HashAPIKey(apiKey, salt)
	if err != nil {
		return "", err
	}
	r.hashes.Add(memoKey, h)
	return h, nil
}

// HashAPIKey reproduz o hash que o hub usa como chave em GET /keys.
func HashAPIKey(apiKey, salt string) (string, error) {
	sum, err := scrypt.Key([]byte(apiKey), []byte(salt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}
