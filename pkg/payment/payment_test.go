// Copyright 2026 Provenact Labs

package payment

import (
	"context"
	"errors"
	"testing"
)

func TestCheckShape(t *testing.T) {
	cases := []struct {
		name    string
		proof   Proof
		wantErr error
	}{
		{
			"valid onchain",
			Proof{PaymentType: TypeOnchain, TxHash: "aa", AmountSats: 100, Confirmations: 1},
			nil,
		},
		{
			"valid lightning",
			Proof{PaymentType: TypeLightning, PaymentHash: "bb", Preimage: "cc", AmountSats: 100},
			nil,
		},
		{
			"zero amount",
			Proof{PaymentType: TypeOnchain, TxHash: "aa", Confirmations: 1},
			ErrZeroAmount,
		},
		{
			"onchain without tx",
			Proof{PaymentType: TypeOnchain, AmountSats: 1, Confirmations: 1},
			ErrMissingTxHash,
		},
		{
			"onchain unconfirmed",
			Proof{PaymentType: TypeOnchain, TxHash: "aa", AmountSats: 1},
			ErrInsufficientConfirms,
		},
		{
			"lightning without preimage",
			Proof{PaymentType: TypeLightning, PaymentHash: "bb", AmountSats: 1},
			ErrMissingPaymentHash,
		},
		{
			"unknown type",
			Proof{PaymentType: "WIRE", AmountSats: 1},
			ErrUnknownType,
		},
	}

	for _, tc := range cases {
		err := tc.proof.CheckShape(1)
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestStaticVerifier(t *testing.T) {
	v := &StaticVerifier{MinConfirmations: 1}

	ok, err := v.Verify(context.Background(), &Proof{
		PaymentType: TypeOnchain, TxHash: "aa", AmountSats: 100, Confirmations: 1,
	})
	if err != nil || !ok {
		t.Errorf("valid proof refused: ok=%v err=%v", ok, err)
	}

	ok, err = v.Verify(context.Background(), &Proof{
		PaymentType: TypeOnchain, TxHash: "aa", AmountSats: 100,
	})
	if err != nil || ok {
		t.Errorf("unconfirmed proof accepted: ok=%v err=%v", ok, err)
	}

	ok, err = v.Verify(context.Background(), nil)
	if err != nil || ok {
		t.Error("nil proof accepted")
	}
}
