package mir

import (
	"testing"

	"github.com/archguard/zeroaudit/internal/finding"
	"github.com/archguard/zeroaudit/internal/sensitive"
	"github.com/stretchr/testify/assert"
)

func TestDropWithoutStorageDeadNoReturn(t *testing.T) {
	counter := finding.NewCounter("RUST", "MIR")
	mirText := `fn wipe_key(_1: &mut Key) -> () {
    debug key => _2;
    bb0: {
        drop(_2);
    }
}`
	findings := Analyze(counter, mirText, nil, "test.mir")
	var saw bool
	for _, f := range findings {
		if f.Category == finding.MissingSourceZeroize && f.Symbol == "key" {
			saw = true
		}
	}
	assert.True(t, saw)
}

func TestDropWithoutStorageDeadWithReturn(t *testing.T) {
	counter := finding.NewCounter("RUST", "MIR")
	mirText := `fn wipe_key(_1: &mut Key) -> () {
    debug key => _2;
    bb0: {
        drop(_2);
        return;
    }
}`
	findings := Analyze(counter, mirText, nil, "test.mir")
	var saw bool
	for _, f := range findings {
		if f.Category == finding.NotOnAllPaths && f.Symbol == "key" {
			saw = true
		}
	}
	assert.True(t, saw)
}

func TestResumeWithLiveSecret(t *testing.T) {
	counter := finding.NewCounter("RUST", "MIR")
	mirText := `fn handle(_1: &Secret) -> () {
    debug secret_val => _2;
    bb0: {
        resume;
    }
}`
	findings := Analyze(counter, mirText, nil, "test.mir")
	var saw bool
	for _, f := range findings {
		if f.Category == finding.MissingSourceZeroize && f.Symbol == "secret_val" {
			saw = true
		}
	}
	assert.True(t, saw)
}

func TestAggregateMoveIntoNonZeroizingType(t *testing.T) {
	counter := finding.NewCounter("RUST", "MIR")
	mirText := `fn pack(_1: Key) -> Envelope {
    debug key => _2;
    bb0: {
        _3 = Envelope { field: move _2 };
    }
}`
	findings := Analyze(counter, mirText, nil, "test.mir")
	var saw bool
	for _, f := range findings {
		if f.Category == finding.SecretCopy && f.Symbol == "key" {
			saw = true
		}
	}
	assert.True(t, saw)
}

func TestAggregateMoveIntoZeroizingTypeSkipped(t *testing.T) {
	counter := finding.NewCounter("RUST", "MIR")
	mirText := `fn pack(_1: Key) -> Zeroizing<Vec<u8>> {
    debug key => _2;
    bb0: {
        _3 = Zeroizing { field: move _2 };
    }
}`
	findings := Analyze(counter, mirText, nil, "test.mir")
	for _, f := range findings {
		assert.NotEqual(t, finding.SecretCopy, f.Category)
	}
}

func TestClosureCaptureSecret(t *testing.T) {
	counter := finding.NewCounter("RUST", "MIR")
	mirText := `fn make_closure(_1: Key) -> () {
    debug key => _2;
    bb0: {
        _3 = [closure@foo.rs] { key: move _2 };
    }
}`
	findings := Analyze(counter, mirText, nil, "test.mir")
	var saw bool
	for _, f := range findings {
		if f.Category == finding.SecretCopy && f.Severity == finding.SeverityHigh && f.Symbol == "key" {
			saw = true
		}
	}
	assert.True(t, saw)
}

func TestDropGlueWithoutZeroize(t *testing.T) {
	counter := finding.NewCounter("RUST", "MIR")
	mirText := `fn drop_in_place(_1: *mut Key) -> () {
    bb0: {
        drop(_1);
    }
}`
	findings := Analyze(counter, mirText, nil, "test.mir")
	var saw bool
	for _, f := range findings {
		if f.Category == finding.MissingSourceZeroize && f.Symbol == "drop_in_place" {
			saw = true
		}
	}
	assert.True(t, saw)
}

func TestDropGlueWithZeroizeNotFlagged(t *testing.T) {
	counter := finding.NewCounter("RUST", "MIR")
	mirText := `fn drop_in_place(_1: *mut Key) -> () {
    bb0: {
        _2 = zeroize::Zeroize::zeroize(_1);
        drop(_1);
    }
}`
	findings := Analyze(counter, mirText, nil, "test.mir")
	assert.Empty(t, findings)
}

func TestFFICallWithSecret(t *testing.T) {
	counter := finding.NewCounter("RUST", "MIR")
	mirText := `fn send(_1: Key) -> () {
    debug key => _2;
    bb0: {
        _3 = call crypto_ffi_send(_2);
    }
}`
	findings := Analyze(counter, mirText, nil, "test.mir")
	var saw bool
	for _, f := range findings {
		if f.Category == finding.SecretCopy && f.Severity == finding.SeverityHigh && f.Symbol == "key" {
			saw = true
		}
	}
	assert.True(t, saw)
}

func TestYieldWithLiveSecret(t *testing.T) {
	counter := finding.NewCounter("RUST", "MIR")
	mirText := `fn poll(_1: &Secret) -> () {
    debug secret_token => _2;
    bb0: {
        yield;
    }
}`
	findings := Analyze(counter, mirText, nil, "test.mir")
	var saw bool
	for _, f := range findings {
		if f.Category == finding.NotOnAllPaths && f.Symbol == "secret_token" {
			saw = true
		}
	}
	assert.True(t, saw)
}

func TestErrPathWithLiveSecret(t *testing.T) {
	counter := finding.NewCounter("RUST", "MIR")
	mirText := `fn authenticate(_1: &Password) -> Result<(), Error> {
    debug password => _2;
    bb0: {
        _3 = Err(move _4);
    }
}`
	findings := Analyze(counter, mirText, nil, "test.mir")
	var saw bool
	for _, f := range findings {
		if f.Category == finding.NotOnAllPaths && f.Symbol == "password" {
			saw = true
		}
	}
	assert.True(t, saw)
}

func TestExtraSensitiveDescriptorWidensMatch(t *testing.T) {
	counter := finding.NewCounter("RUST", "MIR")
	mirText := `fn wipe(_1: &mut Widget) -> () {
    debug custom_blob => _2;
    bb0: {
        drop(_2);
    }
}`
	findings := Analyze(counter, mirText, []sensitive.Descriptor{{Language: "rust", Name: "custom_blob"}}, "test.mir")
	var saw bool
	for _, f := range findings {
		if f.Symbol == "custom_blob" {
			saw = true
		}
	}
	assert.True(t, saw)
}

func TestMalformedBraceDepthMarksNeedsReview(t *testing.T) {
	counter := finding.NewCounter("RUST", "MIR")
	mirText := `fn broken(_1: &mut Key) -> () {
    debug key => _2;
    }
    bb0: {
        drop(_2);
    }
}`
	findings := Analyze(counter, mirText, nil, "test.mir")
	for _, f := range findings {
		assert.True(t, f.NeedsReview)
	}
}
