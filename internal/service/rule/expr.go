package rule

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

// Gray expressions are deliberately tiny: comparisons over the user's
// rollout bucket, optionally modulo a divisor, joined with &&. The
// supported shapes are
//
//	uid < 20              uid % 10 == 7
//	bucket < 20           uid % 10 != 3
//	userId == "u42"       uid >= 50 && uid % 2 == 0
//
// uid and bucket are both the stable 0-99 rollout bucket, uid being
// the historical name rules in the wild still use. userId compares the
// raw ID string. Anything the parser does not recognize is an error
// and the caller fails closed.

type exprContext struct {
	userID string
	uid    int64
	bucket int64
}

func newExprContext(userID string) exprContext {
	bucket := BucketOf(userID)
	return exprContext{
		userID: userID,
		uid:    bucket,
		bucket: bucket,
	}
}

// BucketOf maps a user to a stable bucket in [0, 100). Decimal IDs use
// their trailing digits so bucket assignment matches what operators
// eyeball in user lists; everything else hashes.
func BucketOf(userID string) int64 {
	if isDecimal(userID) {
		n, err := strconv.ParseInt(lastDigits(userID, 2), 10, 64)
		if err == nil {
			return n
		}
	}
	return hashIdentity(userID) % 100
}

func hashIdentity(userID string) int64 {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return int64(h.Sum32())
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func lastDigits(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// EvalExpr evaluates a gray expression for one user.
func EvalExpr(expr, userID string) (bool, error) {
	ctx := newExprContext(userID)
	for _, clause := range strings.Split(expr, "&&") {
		ok, err := evalClause(strings.TrimSpace(clause), ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalClause(clause string, ctx exprContext) (bool, error) {
	if clause == "" {
		return false, fmt.Errorf("empty clause")
	}

	op, opIdx := findOperator(clause)
	if op == "" {
		return false, fmt.Errorf("no comparison operator in %q", clause)
	}

	left := strings.TrimSpace(clause[:opIdx])
	right := strings.TrimSpace(clause[opIdx+len(op):])

	// string equality on the raw user ID
	if strings.HasPrefix(right, `"`) {
		if left != "userId" {
			return false, fmt.Errorf("string comparison requires userId, got %q", left)
		}
		lit, err := strconv.Unquote(right)
		if err != nil {
			return false, fmt.Errorf("bad string literal %q", right)
		}
		switch op {
		case "==":
			return ctx.userID == lit, nil
		case "!=":
			return ctx.userID != lit, nil
		}
		return false, fmt.Errorf("operator %s not allowed on userId", op)
	}

	lhs, err := evalTerm(left, ctx)
	if err != nil {
		return false, err
	}
	rhs, err := strconv.ParseInt(right, 10, 64)
	if err != nil {
		return false, fmt.Errorf("bad numeric literal %q", right)
	}

	switch op {
	case "<":
		return lhs < rhs, nil
	case "<=":
		return lhs <= rhs, nil
	case ">":
		return lhs > rhs, nil
	case ">=":
		return lhs >= rhs, nil
	case "==":
		return lhs == rhs, nil
	case "!=":
		return lhs != rhs, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

// findOperator locates the comparison operator, longest match first so
// "<=" is not read as "<".
func findOperator(clause string) (string, int) {
	for _, op := range []string{"<=", ">=", "==", "!=", "<", ">"} {
		if idx := strings.Index(clause, op); idx >= 0 {
			return op, idx
		}
	}
	return "", -1
}

func evalTerm(term string, ctx exprContext) (int64, error) {
	if modIdx := strings.Index(term, "%"); modIdx >= 0 {
		base, err := evalIdent(strings.TrimSpace(term[:modIdx]), ctx)
		if err != nil {
			return 0, err
		}
		div, err := strconv.ParseInt(strings.TrimSpace(term[modIdx+1:]), 10, 64)
		if err != nil || div <= 0 {
			return 0, fmt.Errorf("bad modulo divisor in %q", term)
		}
		return base % div, nil
	}
	return evalIdent(term, ctx)
}

func evalIdent(ident string, ctx exprContext) (int64, error) {
	switch ident {
	case "uid":
		return ctx.uid, nil
	case "bucket":
		return ctx.bucket, nil
	}
	return 0, fmt.Errorf("unknown identifier %q", ident)
}
