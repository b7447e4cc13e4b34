package brief

import (
	"sort"

	"github.com/hitoshi/marketbrief/internal/model"
)

const (
	// shortlistCap はアカウントごとのショートリスト上限。
	shortlistCap = 8

	// highEngagementLikes / highEngagementReshares はリプライを
	// ショートリストに残すためのエンゲージメント閾値。
	highEngagementLikes    = 50
	highEngagementReshares = 10
)

// rankOf は投稿の種別優先度を返す。小さいほど優先される。
// 閾値未満のリプライは-1（破棄）を返す。
func rankOf(p *model.Post) int {
	switch p.Kind {
	case model.PostKindOriginal:
		return 0
	case model.PostKindQuote:
		return 1
	case model.PostKindReshare:
		return 2
	case model.PostKindReply:
		if p.Likes > highEngagementLikes || p.Reshares > highEngagementReshares {
			return 3
		}
		return -1
	default:
		return 0
	}
}

// accountShortlist は1アカウント分のショートリストと選択状態。
type accountShortlist struct {
	handle    string
	shortlist []model.Post
	taken     int // shortlist[:taken] が選択済み
}

// Select は各アカウントのフェッチ結果から、サマリーに渡す投稿を選択する。
// アカウントごとのショートリスト化、公平割り当て、エンゲージメントによる
// 補充の3段階で構成され、同一入力に対して常に同一の出力を返す。
// 結果の件数はmaxTotalを超えない。
func Select(outcomes []model.FetchOutcome, maxTotal int) []model.Post {
	if maxTotal <= 0 {
		return nil
	}

	// Step 1: アカウントごとのショートリスト化。
	// 種別優先度でランク付けし、同ランク内ではソース順（新しい順）を保つ。
	var accounts []*accountShortlist
	for _, outcome := range outcomes {
		sl := shortlist(outcome.Posts)
		if len(sl) == 0 {
			continue
		}
		accounts = append(accounts, &accountShortlist{handle: outcome.Handle, shortlist: sl})
	}
	if len(accounts) == 0 {
		return nil
	}

	// 決定性のためアカウントはハンドル昇順で処理する。
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].handle < accounts[j].handle
	})

	// Step 2: 公平割り当て。クォータはアカウントが1件でも投稿を持つ限り
	// 最低2を保証する。
	quota := maxTotal / len(accounts)
	if quota < 2 {
		quota = 2
	}

	total := 0
	for _, a := range accounts {
		a.taken = quota
		if a.taken > len(a.shortlist) {
			a.taken = len(a.shortlist)
		}
		total += a.taken
	}

	// クォータ合計がmaxTotalを超えた場合は末尾から削る。
	// 優先度の低い投稿から落とし、各アカウント最低1件は残す。
	for total > maxTotal {
		victim := pickTrimVictim(accounts)
		if victim == nil {
			break
		}
		victim.taken--
		total--
	}

	// Step 3: エンゲージメント補充。未選択のショートリスト残をプールし、
	// いいね+リポスト降順（同数はハンドル昇順、ID昇順）で追加する。
	type leftover struct {
		handle string
		post   model.Post
	}
	var pool []leftover
	for _, a := range accounts {
		for _, p := range a.shortlist[a.taken:] {
			pool = append(pool, leftover{handle: a.handle, post: p})
		}
	}
	sort.Slice(pool, func(i, j int) bool {
		ei, ej := pool[i].post.Engagement(), pool[j].post.Engagement()
		if ei != ej {
			return ei > ej
		}
		if pool[i].handle != pool[j].handle {
			return pool[i].handle < pool[j].handle
		}
		return model.PostIDLess(pool[i].post.ID, pool[j].post.ID)
	})

	var selected []model.Post
	for _, a := range accounts {
		selected = append(selected, a.shortlist[:a.taken]...)
	}
	for _, l := range pool {
		if len(selected) >= maxTotal {
			break
		}
		selected = append(selected, l.post)
	}
	return selected
}

// shortlist は投稿を種別優先度でランク付けし、上位shortlistCap件を返す。
// 閾値未満のリプライは破棄される。同ランク内ではソース順を保つ。
func shortlist(posts []model.Post) []model.Post {
	var ranked []model.Post
	for _, p := range posts {
		if rankOf(&p) < 0 {
			continue
		}
		ranked = append(ranked, p)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return rankOf(&ranked[i]) < rankOf(&ranked[j])
	})

	if len(ranked) > shortlistCap {
		ranked = ranked[:shortlistCap]
	}
	return ranked
}

// pickTrimVictim はクォータ超過分を削る対象アカウントを選ぶ。
// 2件以上選択済みのアカウントのうち、末尾（最も優先度の低い）投稿の
// ランクが最も低いものを選ぶ。同ランクはエンゲージメントの低い方、
// さらに同値はハンドル降順で決定する。
func pickTrimVictim(accounts []*accountShortlist) *accountShortlist {
	var victim *accountShortlist
	var victimRank, victimEngagement int

	for _, a := range accounts {
		if a.taken <= 1 {
			continue
		}
		tail := &a.shortlist[a.taken-1]
		r, e := rankOf(tail), tail.Engagement()
		if victim == nil ||
			r > victimRank ||
			(r == victimRank && e < victimEngagement) ||
			(r == victimRank && e == victimEngagement && a.handle > victim.handle) {
			victim, victimRank, victimEngagement = a, r, e
		}
	}
	return victim
}
