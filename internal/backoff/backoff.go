package backoff

import "time"

// Policy экспоненциальная задержка с ограничением сверху
type Policy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Default политика переподключения по умолчанию: 1s, 2s, 4s ... 60s
func Default() Policy {
	return Policy{Initial: time.Second, Max: time.Minute, Multiplier: 2}
}

// Delay задержка перед попыткой attempt (нумерация с 1)
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}

	d := float64(p.Initial)
	for i := 1; i < attempt; i++ {
		d *= mult
		if p.Max > 0 && d >= float64(p.Max) {
			return p.Max
		}
	}
	if p.Max > 0 && time.Duration(d) > p.Max {
		return p.Max
	}
	return time.Duration(d)
}
