package storage

import (
	"github.com/go-redis/redis/v8"
)

// Procedure descreve um script Lua executado atomicamente no Redis.
// Arity é o tamanho esperado da tupla de resposta.
type Procedure struct {
	Name   string
	Arity  int
	script *redis.Script
}

// checkAndConsumeScript implementa a janela deslizante sobre um sorted set.
// Resposta: {exceeded, current}
const checkAndConsumeScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local nonce = ARGV[4]

if not limit or limit <= 0 then
	return redis.error_reply("invalid limit: " .. tostring(ARGV[1]))
end
if not window_ms or window_ms <= 0 then
	return redis.error_reply("invalid window: " .. tostring(ARGV[2]))
end
if not now_ms or now_ms <= 0 then
	return redis.error_reply("invalid timestamp: " .. tostring(ARGV[3]))
end

-- Remove entradas que já saíram da janela deslizante
local cutoff = now_ms - window_ms
redis.call('ZREMRANGEBYSCORE', key, '-inf', cutoff)

-- Conta as entradas ainda válidas
local count = redis.call('ZCARD', key)

-- Limite atingido, rejeita sem consumir vaga
if count >= limit then
	return {1, count}
end

-- Consome uma vaga e renova o TTL da chave
redis.call('ZADD', key, now_ms, now_ms .. ':' .. nonce)
redis.call('EXPIRE', key, math.ceil(window_ms * 2 / 1000))

return {0, count + 1}
`

// recordViolationScript registra a violação incondicionalmente antes de contar.
// Resposta: {should_ban, violation_count}
const recordViolationScript = `
local key = KEYS[1]
local threshold = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local nonce = ARGV[4]

if not threshold or threshold <= 0 then
	return redis.error_reply("invalid threshold: " .. tostring(ARGV[1]))
end
if not window_ms or window_ms <= 0 then
	return redis.error_reply("invalid window: " .. tostring(ARGV[2]))
end
if not now_ms or now_ms <= 0 then
	return redis.error_reply("invalid timestamp: " .. tostring(ARGV[3]))
end

-- Acrescenta a violação e renova o TTL da chave
redis.call('ZADD', key, now_ms, now_ms .. ':' .. nonce)
redis.call('EXPIRE', key, math.ceil(window_ms * 2 / 1000))

-- Remove violações fora da janela e conta as restantes
redis.call('ZREMRANGEBYSCORE', key, '-inf', now_ms - window_ms)
local count = redis.call('ZCARD', key)

local should_ban = 0
if count >= threshold then
	should_ban = 1
end

return {should_ban, count}
`

// checkBannedScript lê o registro de ban e a contagem de violações em uma viagem.
// Resposta: {banned, record_json, violation_count}
const checkBannedScript = `
local ban_key = KEYS[1]
local violations_key = KEYS[2]

local record = redis.call('GET', ban_key)
local violations = redis.call('ZCARD', violations_key)

-- Tabelas Lua truncam no primeiro nil, ausência vira string vazia
if record then
	return {1, record, violations}
end

return {0, '', violations}
`

// imposeBanScript grava o registro de ban com PX e zera o histórico de violações.
// Resposta: {ok, violation_count_at_ban}
const imposeBanScript = `
local ban_key = KEYS[1]
local violations_key = KEYS[2]
local record_json = ARGV[1]
local duration_ms = tonumber(ARGV[2])

if not duration_ms or duration_ms <= 0 then
	return redis.error_reply("invalid duration: " .. tostring(ARGV[2]))
end

-- Congela a contagem de violações dentro do registro
local record = cjson.decode(record_json)
record['violationCountAtBan'] = redis.call('ZCARD', violations_key)

-- Sobrescreve ban anterior reiniciando o relógio e limpa o histórico
redis.call('SET', ban_key, cjson.encode(record), 'PX', duration_ms)
redis.call('DEL', violations_key)

return {1, record['violationCountAtBan']}
`

var (
	procCheckAndConsume = &Procedure{Name: "check_and_consume", Arity: 2, script: redis.NewScript(checkAndConsumeScript)}
	procRecordViolation = &Procedure{Name: "record_violation", Arity: 2, script: redis.NewScript(recordViolationScript)}
	procCheckBanned     = &Procedure{Name: "check_banned", Arity: 3, script: redis.NewScript(checkBannedScript)}
	procImposeBan       = &Procedure{Name: "impose_ban", Arity: 2, script: redis.NewScript(imposeBanScript)}
)
