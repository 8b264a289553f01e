package aggregation

import "testing"

func TestEventFingerprintStable(t *testing.T) {
	a := EventFingerprint("cpu_usage", "db-1", "postgres", "zabbix")
	b := EventFingerprint("cpu_usage", "db-1", "postgres", "zabbix")
	if a != b {
		t.Fatalf("fingerprint not deterministic: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

func TestEventFingerprintDistinguishesFields(t *testing.T) {
	base := EventFingerprint("cpu_usage", "db-1", "postgres", "zabbix")
	variants := []string{
		EventFingerprint("mem_usage", "db-1", "postgres", "zabbix"),
		EventFingerprint("cpu_usage", "db-2", "postgres", "zabbix"),
		EventFingerprint("cpu_usage", "db-1", "mysql", "zabbix"),
		EventFingerprint("cpu_usage", "db-1", "postgres", "prometheus"),
	}
	for i, v := range variants {
		if v == base {
			t.Fatalf("variant %d collided with base fingerprint", i)
		}
	}
}

func TestSessionKey(t *testing.T) {
	if got := SessionKey("abc", 3); got != "abc:3" {
		t.Fatalf("unexpected session key: %s", got)
	}
}
