// Package access は画像に対する閲覧・変更・削除の可否を判定する。
//
// 判定は所有者IDと公開範囲のみに基づく。requesterが空のIDは未ログインを表す。
// 所有者が削除された画像（OwnerIDが空）は、公開画像の閲覧を除き誰も操作できない。
package access

import "github.com/hitoshi/picshub/internal/model"

// CanRead は画像を閲覧できるかどうかを返す。
// 公開画像は誰でも、非公開画像は所有者のみ閲覧できる。
func CanRead(requester model.UserID, img *model.Image) bool {
	if img == nil {
		return false
	}
	return img.IsPublic() || isOwner(requester, img)
}

// CanMutate はキャプションや公開範囲を変更できるかどうかを返す。
func CanMutate(requester model.UserID, img *model.Image) bool {
	return isOwner(requester, img)
}

// CanDelete は画像を削除できるかどうかを返す。公開範囲には依存しない。
func CanDelete(requester model.UserID, img *model.Image) bool {
	return isOwner(requester, img)
}

func isOwner(requester model.UserID, img *model.Image) bool {
	if img == nil || requester.IsZero() || img.OwnerID.IsZero() {
		return false
	}
	return requester == img.OwnerID
}
