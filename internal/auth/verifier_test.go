package auth

import (
    "crypto/hmac"
    "crypto/sha256"
    "encoding/base64"
    "testing"
)

func TestVerifyDevToken(t *testing.T) {
    v := &Verifier{Mode: "dev"}
    p, err := v.Verify("t_acme:viewer")
    if err != nil { t.Fatalf("verify: %v", err) }
    if p.Tenant != "t_acme" || p.Role != "viewer" { t.Fatalf("principal: %+v", p) }

    if _, err := v.Verify("nocolons"); err == nil {
        t.Fatal("expected error for malformed dev token")
    }
}

func signJWT(t *testing.T, secret []byte, header, payload string) string {
    t.Helper()
    enc := base64.RawURLEncoding
    h := enc.EncodeToString([]byte(header))
    p := enc.EncodeToString([]byte(payload))
    mac := hmac.New(sha256.New, secret)
    mac.Write([]byte(h + "." + p))
    return h + "." + p + "." + enc.EncodeToString(mac.Sum(nil))
}

func TestVerifyHMACToken(t *testing.T) {
    secret := []byte("s3cret")
    v := &Verifier{Mode: "hmac", HMACSecret: secret, TenantClaim: "tenant", RoleClaim: "role"}

    tok := signJWT(t, secret, `{"alg":"HS256","typ":"JWT"}`, `{"tenant":"t1","role":"Admin"}`)
    p, err := v.Verify(tok)
    if err != nil { t.Fatalf("verify: %v", err) }
    if p.Tenant != "t1" || p.Role != "admin" { t.Fatalf("principal: %+v", p) }

    // wrong secret
    bad := signJWT(t, []byte("other"), `{"alg":"HS256"}`, `{"tenant":"t1","role":"admin"}`)
    if _, err := v.Verify(bad); err == nil { t.Fatal("bad signature accepted") }

    // unsupported alg
    none := signJWT(t, secret, `{"alg":"none"}`, `{"tenant":"t1"}`)
    if _, err := v.Verify(none); err == nil { t.Fatal("alg none accepted") }

    // missing tenant claim
    noTenant := signJWT(t, secret, `{"alg":"HS256"}`, `{"role":"admin"}`)
    if _, err := v.Verify(noTenant); err == nil { t.Fatal("missing tenant accepted") }

    // role defaults to viewer
    noRole := signJWT(t, secret, `{"alg":"HS256"}`, `{"tenant":"t1"}`)
    p, err = v.Verify(noRole)
    if err != nil { t.Fatalf("verify: %v", err) }
    if p.Role != "viewer" { t.Fatalf("default role: %q", p.Role) }
}
