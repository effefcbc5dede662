package module

import "github.com/hitoshi/notemodules/internal/model"

// Role はモジュールに対して要求する権限の段階。
type Role int

const (
	// RoleViewer は閲覧権限。編集者または公開モジュールであれば許可する。
	RoleViewer Role = iota
	// RoleEditor はノートの追加・削除権限。所有者または共同編集者に許可する。
	RoleEditor
	// RoleOwner はメタデータの更新とモジュール削除の権限。所有者のみに許可する。
	RoleOwner
)

// String はログ出力用の名前を返す。
func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RoleEditor:
		return "editor"
	case RoleOwner:
		return "owner"
	default:
		return "unknown"
	}
}

// Authorize はuserIDがモジュールに対してroleの操作を行えるかを判定する。
// 権限判定はこの関数だけで行い、拒否時はFORBIDDENのAPIErrorを返す。
func Authorize(m *model.Module, userID string, role Role) error {
	if userID != "" && m.OwnerID == userID {
		return nil
	}

	switch role {
	case RoleOwner:
		return model.NewForbiddenError("この操作はモジュールの所有者のみ実行できます")
	case RoleEditor:
		if userID != "" && m.IsCollaborator(userID) {
			return nil
		}
		return model.NewForbiddenError("このモジュールを編集する権限がありません")
	case RoleViewer:
		if m.IsPublic || (userID != "" && m.IsCollaborator(userID)) {
			return nil
		}
		return model.NewForbiddenError("このモジュールを閲覧する権限がありません")
	default:
		return model.NewForbiddenError("この操作を実行する権限がありません")
	}
}
